package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/twiliowhatsapp"
)

// TwilioService implements Service over the Twilio REST API. Inbound
// messages arrive through the HTTP webhook, which hands them to Deliver.
type TwilioService struct {
	channels
	client twiliowhatsapp.Sender
}

// NewTwilioService wraps a Twilio sender (real client or MockClient).
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		channels: newChannels("TwilioService"),
		client:   client,
	}
}

// ValidateAndCanonicalizeRecipient strips the whatsapp: prefix and returns E.164.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalRecipient(recipient)
}

// Start is a no-op; Twilio pushes inbound traffic to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the channels.
func (s *TwilioService) Stop() error {
	s.close()
	slog.Info("TwilioService.Stop: stopped")
	return nil
}

// SendMessage sends a message via Twilio and emits a sent receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "to", to, "error", err)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Deliver queues an inbound webhook message for the dispatcher.
func (s *TwilioService) Deliver(resp models.Response) error {
	return s.emitResponse(NormalizeInbound(resp))
}

// EmitReceipt queues a delivery status callback.
func (s *TwilioService) EmitReceipt(r models.Receipt) {
	s.emitReceipt(r)
}

// ParseTwilioInbound converts the webhook form of an inbound message.
// Only the first attachment is kept.
func ParseTwilioInbound(form url.Values) (models.Response, error) {
	from := strings.TrimSpace(form.Get("From"))
	if from == "" {
		return models.Response{}, fmt.Errorf("missing From")
	}
	resp := models.Response{
		MessageID: form.Get("MessageSid"),
		From:      strings.TrimPrefix(from, twiliowhatsapp.WhatsAppPrefix),
		Body:      form.Get("Body"),
		Time:      time.Now().Unix(),
	}
	if n, _ := strconv.Atoi(form.Get("NumMedia")); n > 0 {
		if u := form.Get("MediaUrl0"); u != "" {
			resp.Media = &models.Media{URL: u, ContentType: form.Get("MediaContentType0")}
		}
	}
	return NormalizeInbound(resp), nil
}

// ParseTwilioStatus converts a status callback form into a receipt.
func ParseTwilioStatus(form url.Values) (models.Receipt, error) {
	sid := form.Get("MessageSid")
	status := models.MessageStatus(strings.ToLower(form.Get("MessageStatus")))
	if sid == "" || status == "" {
		return models.Receipt{}, fmt.Errorf("missing MessageSid or MessageStatus")
	}
	return models.Receipt{
		MessageID: sid,
		To:        strings.TrimPrefix(form.Get("To"), twiliowhatsapp.WhatsAppPrefix),
		Status:    status,
		Time:      time.Now().Unix(),
	}, nil
}
