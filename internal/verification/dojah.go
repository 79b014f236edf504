package verification

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Provider endpoints
const (
	DefaultDojahBaseURL = "https://api.dojah.io"
	DefaultZeehBaseURL  = "https://api.usezeeh.com/v1"

	ninPath         = "/api/v1/kyc/nin"
	faceComparePath = "/api/v1/kyc/face/compare"
	lookupCACPath   = "/nigeria_kyc/lookup_cac"
)

// Opts holds configuration options for the KYC provider client.
type Opts struct {
	BaseURL       string
	AppID         string
	SecretKey     string
	ZeehBaseURL   string
	ZeehSecretKey string
	Timeout       time.Duration
	RetryCount    int
}

// Option defines a configuration option for the KYC provider client.
type Option func(*Opts)

// WithBaseURL overrides the Dojah API base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithAppID sets the Dojah application ID.
func WithAppID(id string) Option {
	return func(o *Opts) { o.AppID = id }
}

// WithSecretKey sets the Dojah secret key.
func WithSecretKey(key string) Option {
	return func(o *Opts) { o.SecretKey = key }
}

// WithZeehBaseURL overrides the company registry API base URL.
func WithZeehBaseURL(url string) Option {
	return func(o *Opts) { o.ZeehBaseURL = url }
}

// WithZeehSecretKey sets the company registry API key.
func WithZeehSecretKey(key string) Option {
	return func(o *Opts) { o.ZeehSecretKey = key }
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithRetryCount sets how many times transport errors are retried.
func WithRetryCount(n int) Option {
	return func(o *Opts) { o.RetryCount = n }
}

// DojahProvider checks NINs and faces against Dojah and company records
// against Zeeh.
type DojahProvider struct {
	dojah *resty.Client
	zeeh  *resty.Client
}

// NewDojahProvider creates the provider client, falling back to DOJAH_*
// and ZEEH_* environment variables for unset options.
func NewDojahProvider(opts ...Option) (*DojahProvider, error) {
	cfg := Opts{Timeout: 30 * time.Second, RetryCount: 2}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("DOJAH_BASE_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultDojahBaseURL
	}
	if cfg.AppID == "" {
		cfg.AppID = os.Getenv("DOJAH_APP_ID")
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = os.Getenv("DOJAH_SECRET_KEY")
	}
	if cfg.ZeehBaseURL == "" {
		cfg.ZeehBaseURL = os.Getenv("ZEEH_BASE_URL")
	}
	if cfg.ZeehBaseURL == "" {
		cfg.ZeehBaseURL = DefaultZeehBaseURL
	}
	if cfg.ZeehSecretKey == "" {
		cfg.ZeehSecretKey = os.Getenv("ZEEH_SECRET_KEY")
	}
	slog.Debug("KYC provider config loaded",
		"AppID_set", cfg.AppID != "",
		"SecretKey_set", cfg.SecretKey != "",
		"ZeehSecretKey_set", cfg.ZeehSecretKey != "")

	if cfg.AppID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("dojah app ID and secret key must be provided")
	}

	p := &DojahProvider{
		dojah: newRestyClient(cfg, cfg.BaseURL).
			SetHeader("AppId", cfg.AppID).
			SetHeader("Authorization", cfg.SecretKey),
	}
	if cfg.ZeehSecretKey != "" {
		p.zeeh = newRestyClient(cfg, cfg.ZeehBaseURL).SetHeader("Secret_Key", cfg.ZeehSecretKey)
	}
	return p, nil
}

func newRestyClient(cfg Opts, baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

type entityResponse struct {
	Entity  map[string]interface{} `json:"entity"`
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
}

// VerifyNIN looks up a National Identification Number.
func (p *DojahProvider) VerifyNIN(ctx context.Context, nin string) (*NINResult, error) {
	var out entityResponse
	resp, err := p.dojah.R().
		SetContext(ctx).
		SetQueryParam("nin", nin).
		SetResult(&out).
		SetError(&out).
		Get(ninPath)
	if err != nil {
		slog.Error("DojahProvider.VerifyNIN: request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return &NINResult{Message: "NIN not found. Please check the number and try again."}, nil
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: rate limited", ErrProviderUnavailable)
	case resp.IsError():
		slog.Warn("DojahProvider.VerifyNIN: provider error", "status", resp.StatusCode(), "error", out.Error)
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode())
	}
	if out.Entity == nil {
		return &NINResult{Message: "NIN not found. Please check the number and try again."}, nil
	}
	valid := out.Entity["valid"] == true || strings.EqualFold(stringField(out.Entity, "status"), "valid")
	res := &NINResult{Valid: valid, Payload: out.Entity}
	if !valid {
		res.Message = "This NIN is not valid or not active."
	}
	return res, nil
}

// CompareFaces compares a selfie with the face on an ID document.
func (p *DojahProvider) CompareFaces(ctx context.Context, selfieURL, documentURL string) (*FaceResult, error) {
	if selfieURL == "" || documentURL == "" {
		return nil, fmt.Errorf("missing required images for comparison")
	}
	var out entityResponse
	resp, err := p.dojah.R().
		SetContext(ctx).
		SetBody(map[string]string{"image_one": selfieURL, "image_two": documentURL}).
		SetResult(&out).
		SetError(&out).
		Post(faceComparePath)
	if err != nil {
		slog.Error("DojahProvider.CompareFaces: request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		slog.Warn("DojahProvider.CompareFaces: provider error", "status", resp.StatusCode(), "error", out.Error)
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode())
	}
	confidence, ok := numberField(out.Entity, "confidence")
	if !ok {
		confidence, _ = numberField(out.Entity, "similarity_score")
	}
	return &FaceResult{
		Match:      out.Entity["match"] == true,
		Confidence: confidence,
		Payload:    out.Entity,
	}, nil
}

type cacResponse struct {
	Success      bool                     `json:"success"`
	ResponseCode string                   `json:"response_code"`
	Message      string                   `json:"message"`
	Data         []map[string]interface{} `json:"data"`
}

// VerifyCompany looks a hospital up in the company registry. Only ACTIVE
// companies verify.
func (p *DojahProvider) VerifyCompany(ctx context.Context, rcNumber, companyName string) (*CompanyResult, error) {
	if p.zeeh == nil {
		return nil, fmt.Errorf("%w: company lookup is not configured", ErrProviderUnavailable)
	}
	var out cacResponse
	resp, err := p.zeeh.R().
		SetContext(ctx).
		SetBody(map[string]string{"rc_number": rcNumber, "company_name": companyName}).
		SetResult(&out).
		SetError(&out).
		Post(lookupCACPath)
	if err != nil {
		slog.Error("DojahProvider.VerifyCompany: request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode())
	}
	if !out.Success || out.ResponseCode != "00" {
		msg := out.Message
		if msg == "" {
			msg = "CAC verification failed"
		}
		return &CompanyResult{Message: msg}, nil
	}
	if len(out.Data) == 0 {
		return &CompanyResult{Message: "No hospital with the provided details was found"}, nil
	}

	res := &CompanyResult{Payload: map[string]interface{}{"data": out.Data}}
	for _, entry := range out.Data {
		status := stringField(entry, "companyStatus")
		if status == "" {
			status = stringField(entry, "status")
		}
		if !strings.EqualFold(status, "ACTIVE") {
			continue
		}
		res.Companies = append(res.Companies, Company{
			RCNumber:     stringField(entry, "rcNumber"),
			ApprovedName: stringField(entry, "approvedName"),
			Status:       strings.ToUpper(status),
		})
	}
	res.Verified = len(res.Companies) > 0
	if res.Verified {
		res.Message = "Hospital verification successful"
	} else {
		res.Message = "Hospital found but not active"
	}
	return res, nil
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func numberField(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
