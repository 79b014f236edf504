package verification

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/BTreeMap/BloodLink/internal/models"
)

// MediaFetcher resolves an inbound attachment to its bytes and content type.
type MediaFetcher interface {
	Fetch(ctx context.Context, media *models.Media) ([]byte, string, error)
}

// FetcherOpts configures HTTPMediaFetcher.
type FetcherOpts struct {
	AccountSID string
	AuthToken  string
	Timeout    time.Duration
	MaxBytes   int64
}

// FetcherOption configures HTTPMediaFetcher.
type FetcherOption func(*FetcherOpts)

// WithMediaCredentials sets the basic-auth pair used to download media.
func WithMediaCredentials(accountSID, authToken string) FetcherOption {
	return func(o *FetcherOpts) {
		o.AccountSID = accountSID
		o.AuthToken = authToken
	}
}

// WithMaxBytes overrides MaxMediaBytes.
func WithMaxBytes(n int64) FetcherOption {
	return func(o *FetcherOpts) { o.MaxBytes = n }
}

// HTTPMediaFetcher downloads attachments by URL. Twilio media URLs require
// the account SID and auth token as basic auth.
type HTTPMediaFetcher struct {
	client   *resty.Client
	maxBytes int64
}

// NewHTTPMediaFetcher creates a fetcher, falling back to TWILIO_ACCOUNT_SID
// and TWILIO_AUTH_TOKEN for credentials.
func NewHTTPMediaFetcher(opts ...FetcherOption) *HTTPMediaFetcher {
	cfg := FetcherOpts{Timeout: 30 * time.Second, MaxBytes: MaxMediaBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	client := resty.New().SetTimeout(cfg.Timeout)
	if cfg.AccountSID != "" && cfg.AuthToken != "" {
		client.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)
	}
	return &HTTPMediaFetcher{client: client, maxBytes: cfg.MaxBytes}
}

// Fetch returns inline data as-is, otherwise downloads media.URL.
func (f *HTTPMediaFetcher) Fetch(ctx context.Context, media *models.Media) ([]byte, string, error) {
	if media == nil {
		return nil, "", fmt.Errorf("no media attached")
	}
	if len(media.Data) > 0 {
		return media.Data, media.ContentType, nil
	}
	if !strings.HasPrefix(media.URL, "https://") && !strings.HasPrefix(media.URL, "http://") {
		return nil, "", fmt.Errorf("invalid media URL %q", media.URL)
	}
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(media.URL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return nil, "", fmt.Errorf("media download returned status %d", resp.StatusCode())
	}
	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = media.ContentType
	}
	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", ErrMediaTooLarge
	}
	return data, contentType, nil
}

// DocumentStore persists verification evidence and returns a URL the KYC
// provider can read.
type DocumentStore interface {
	Upload(ctx context.Context, data []byte, ownerKey, kind, contentType string) (string, error)
}

// LocalDocumentStore writes documents under a directory and returns URLs
// below a public base URL that serves that directory.
type LocalDocumentStore struct {
	root    string
	baseURL string
	now     func() time.Time
}

// NewLocalDocumentStore creates the store, creating root if needed.
func NewLocalDocumentStore(root, baseURL string) (*LocalDocumentStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document dir %s: %w", root, err)
	}
	return &LocalDocumentStore{root: root, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}, nil
}

// Upload writes verifications/<owner>/<kind>-<unix>.<ext>.
func (l *LocalDocumentStore) Upload(ctx context.Context, data []byte, ownerKey, kind, contentType string) (string, error) {
	rel := DocumentPath(ownerKey, kind, contentType, l.now())
	full := filepath.Join(l.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create document dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write document %s: %w", rel, err)
	}
	slog.Debug("LocalDocumentStore.Upload: stored", "path", rel, "bytes", len(data))
	return l.baseURL + "/" + rel, nil
}

// DocumentPath builds the storage key of a verification document.
func DocumentPath(ownerKey, kind, contentType string, at time.Time) string {
	owner := strings.Map(func(r rune) rune {
		if r == '+' || (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '-' {
			return r
		}
		return '_'
	}, ownerKey)
	return fmt.Sprintf("verifications/%s/%s-%d.%s", owner, kind, at.Unix(), extensionFor(contentType))
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	_, sub, ok := strings.Cut(mediaType, "/")
	if !ok || sub == "" {
		return "jpg"
	}
	if sub == "jpeg" {
		return "jpg"
	}
	return sub
}

// MediaPipeline fetches an inbound attachment, checks it is an image
// within the size limit and stores it.
type MediaPipeline struct {
	fetcher  MediaFetcher
	docs     DocumentStore
	maxBytes int
}

// NewMediaPipeline creates a pipeline.
func NewMediaPipeline(fetcher MediaFetcher, docs DocumentStore) *MediaPipeline {
	return &MediaPipeline{fetcher: fetcher, docs: docs, maxBytes: MaxMediaBytes}
}

// Save implements flow.MediaStore.
func (p *MediaPipeline) Save(ctx context.Context, phone, kind string, media *models.Media) (string, error) {
	data, contentType, err := p.fetcher.Fetch(ctx, media)
	if err != nil {
		return "", err
	}
	mediaType, _, perr := mime.ParseMediaType(contentType)
	if perr != nil {
		mediaType = contentType
	}
	if !strings.HasPrefix(mediaType, "image/") {
		slog.Warn("MediaPipeline.Save: rejected non-image", "phone", phone, "contentType", contentType)
		return "", ErrMediaRejected
	}
	if len(data) > p.maxBytes {
		return "", ErrMediaTooLarge
	}
	url, err := p.docs.Upload(ctx, data, phone, kind, mediaType)
	if err != nil {
		return "", fmt.Errorf("failed to store %s for %s: %w", kind, phone, err)
	}
	return url, nil
}
