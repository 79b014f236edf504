// Package whatsapp wraps the whatsmeow client as an alternative WhatsApp
// transport. It logs in with a QR code, sends text and turns inbound
// message events (including images) into models.Response values.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/store"
)

const (
	// DefaultSQLitePath is the default whatsmeow device database.
	DefaultSQLitePath = "/var/lib/bloodlink/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID server for regular users.
	JIDSuffix = types.DefaultUserServer
)

// WhatsAppSender sends WhatsApp text messages.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Downloader fetches the decrypted bytes of a media message.
type Downloader interface {
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

// Opts holds the whatsmeow device database and login settings.
type Opts struct {
	DBDSN       string
	QRPath      string
	NumericCode bool
	LogLevel    string
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode prints the raw login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// WithLogLevel sets the whatsmeow logger level (DEBUG, INFO, WARN, ERROR).
func WithLogLevel(level string) Option {
	return func(o *Opts) { o.LogLevel = strings.ToUpper(level) }
}

// Client wraps the whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient opens the device store, logs in if needed and connects.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{LogLevel: "INFO"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = os.Getenv("BLOODLINK_WHATSAPP_DB_DSN")
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = DefaultSQLitePath
		slog.Debug("WhatsApp NewClient: using default SQLite path", "path", cfg.DBDSN)
	}

	dbDriver := "sqlite3"
	if store.DetectDSNType(cfg.DBDSN) == "postgres" {
		dbDriver = "postgres"
	} else if !strings.Contains(cfg.DBDSN, "foreign_keys") {
		slog.Warn("WhatsApp NewClient: SQLite DSN does not enable foreign keys, which whatsmeow requires",
			"dsn_example", "file:"+cfg.DBDSN+"?_foreign_keys=on")
	}

	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, cfg.DBDSN, waLog.Stdout("Database", cfg.LogLevel, true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}
	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", cfg.LogLevel, true))

	if waClient.Store.ID != nil {
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
		slog.Info("WhatsApp client connected")
		return &Client{waClient: waClient}, nil
	}

	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, _ := waClient.GetQRChannel(ctx)
	if err := waClient.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("WhatsApp login event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(writer, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
		}
	}
	slog.Info("WhatsApp client logged in and connected")
	return &Client{waClient: waClient}, nil
}

// SendMessage sends a text message to an E.164 phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	jid := types.NewJID(strings.TrimPrefix(to, "+"), JIDSuffix)
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		slog.Error("WhatsApp SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent", "to", to, "body_length", len(body))
	return nil
}

// Download fetches an attachment through the underlying client.
func (c *Client) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	return c.waClient.Download(ctx, msg)
}

// AddEventHandler subscribes to whatsmeow events.
func (c *Client) AddEventHandler(fn func(evt interface{})) {
	c.waClient.AddEventHandler(fn)
}

// Disconnect closes the websocket.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// PhoneOf converts a user JID to E.164.
func PhoneOf(jid types.JID) string {
	return "+" + strings.TrimPrefix(jid.User, "+")
}

// Inbound converts a message event into a models.Response. Messages sent
// by this device, group messages and unsupported kinds are skipped. Image
// bytes are downloaded inline; a failed download keeps the caption only.
func Inbound(ctx context.Context, d Downloader, evt *events.Message) (models.Response, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.Response{}, false
	}
	resp := models.Response{
		MessageID: evt.Info.ID,
		From:      PhoneOf(evt.Info.Sender),
		Time:      evt.Info.Timestamp.Unix(),
	}
	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		resp.Body = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		resp.Body = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		resp.Body = img.GetCaption()
		if d == nil {
			break
		}
		data, err := d.Download(ctx, img)
		if err != nil {
			slog.Warn("whatsapp.Inbound: image download failed", "from", resp.From, "error", err)
			break
		}
		resp.Media = &models.Media{ContentType: img.GetMimetype(), Data: data}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		resp.Body = doc.GetCaption()
		if d == nil {
			break
		}
		data, err := d.Download(ctx, doc)
		if err != nil {
			slog.Warn("whatsapp.Inbound: document download failed", "from", resp.From, "error", err)
			break
		}
		resp.Media = &models.Media{ContentType: doc.GetMimetype(), Data: data}
	default:
		slog.Debug("whatsapp.Inbound: ignoring unsupported message", "from", resp.From)
		return models.Response{}, false
	}
	return resp, true
}

// MockClient records sends instead of talking to WhatsApp.
type MockClient struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
}

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}
