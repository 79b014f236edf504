package messaging

import (
	"context"
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/whatsapp"
)

// WhatsAppService implements Service using the whatsmeow client.
type WhatsAppService struct {
	channels
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client
}

// NewWhatsAppService wraps a sender. Inbound events are only subscribed
// when client is a full *whatsapp.Client.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{
		channels: newChannels("WhatsAppService"),
		client:   client,
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
	} else {
		slog.Debug("WhatsAppService: created without event source (likely mock)")
	}
	return s
}

// ValidateAndCanonicalizeRecipient returns the E.164 form of recipient.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalRecipient(recipient)
}

// Start subscribes to message and receipt events.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil {
		return nil
	}
	s.waClient.AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(ctx, v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		}
	})
	slog.Debug("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop disconnects and closes the channels.
func (s *WhatsAppService) Stop() error {
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	s.close()
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "to", canonicalTo, "error", err)
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	var d whatsapp.Downloader
	if s.waClient != nil {
		d = s.waClient
	}
	resp, ok := whatsapp.Inbound(ctx, d, evt)
	if !ok {
		return
	}
	_ = s.emitResponse(NormalizeInbound(resp))
}

func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	to := whatsapp.PhoneOf(evt.MessageSource.Sender)
	for _, id := range evt.MessageIDs {
		s.emitReceipt(models.Receipt{MessageID: id, To: to, Status: status, Time: evt.Timestamp.Unix()})
	}
}
