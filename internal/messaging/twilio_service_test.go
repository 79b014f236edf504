package messaging

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/twiliowhatsapp"
)

func TestParseTwilioInbound(t *testing.T) {
	tests := []struct {
		name      string
		form      url.Values
		wantErr   bool
		wantFrom  string
		wantBody  string
		wantMedia bool
	}{
		{
			name:     "text message",
			form:     url.Values{"From": {"whatsapp:+2348000000001"}, "Body": {" Hi "}, "MessageSid": {"SM1"}},
			wantFrom: "+2348000000001",
			wantBody: "Hi",
		},
		{
			name: "media only",
			form: url.Values{
				"From":              {"whatsapp:+2348000000001"},
				"NumMedia":          {"1"},
				"MediaUrl0":         {"https://api.twilio.com/media/ME1"},
				"MediaContentType0": {"image/jpeg"},
			},
			wantFrom:  "+2348000000001",
			wantBody:  MediaOnlyBody,
			wantMedia: true,
		},
		{
			name:     "media count without url",
			form:     url.Values{"From": {"whatsapp:+2348000000001"}, "NumMedia": {"1"}},
			wantFrom: "+2348000000001",
			wantBody: EmptyBody,
		},
		{
			name:     "empty message",
			form:     url.Values{"From": {"whatsapp:+2348000000001"}},
			wantFrom: "+2348000000001",
			wantBody: EmptyBody,
		},
		{
			name:    "missing sender",
			form:    url.Values{"Body": {"hi"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseTwilioInbound(tt.form)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTwilioInbound: %v", err)
			}
			if resp.From != tt.wantFrom || resp.Body != tt.wantBody {
				t.Errorf("got from=%q body=%q", resp.From, resp.Body)
			}
			if resp.HasMedia() != tt.wantMedia {
				t.Errorf("HasMedia = %v, want %v", resp.HasMedia(), tt.wantMedia)
			}
			if resp.MessageID == "" {
				t.Error("MessageID should always be set")
			}
		})
	}
}

func TestParseTwilioInbound_KeepsMessageSid(t *testing.T) {
	resp, err := ParseTwilioInbound(url.Values{"From": {"whatsapp:+2348000000001"}, "Body": {"hi"}, "MessageSid": {"SM42"}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.MessageID != "SM42" {
		t.Errorf("MessageID = %q, want SM42", resp.MessageID)
	}
}

func TestParseTwilioStatus(t *testing.T) {
	r, err := ParseTwilioStatus(url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"Delivered"}, "To": {"whatsapp:+2348000000001"}})
	if err != nil {
		t.Fatalf("ParseTwilioStatus: %v", err)
	}
	if r.MessageID != "SM1" || r.Status != models.MessageStatusDelivered || r.To != "+2348000000001" {
		t.Errorf("unexpected receipt %+v", r)
	}
	if _, err := ParseTwilioStatus(url.Values{"MessageSid": {"SM1"}}); err == nil {
		t.Error("expected error without MessageStatus")
	}
}

func TestTwilioService_SendAndDeliver(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(client)

	if err := svc.SendMessage(context.Background(), "+2348000000001", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent := client.Sent(); len(sent) != 1 || sent[0].To != "+2348000000001" {
		t.Fatalf("unexpected sends %+v", sent)
	}
	if r := <-svc.Receipts(); r.Status != models.MessageStatusSent {
		t.Errorf("receipt status = %s", r.Status)
	}

	if err := svc.Deliver(models.Response{From: "+2348000000001"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	got := <-svc.Responses()
	if got.Body != EmptyBody {
		t.Errorf("Body = %q, want %q", got.Body, EmptyBody)
	}

	svc.EmitReceipt(models.Receipt{MessageID: "SM1", Status: models.MessageStatusRead})
	if r := <-svc.Receipts(); r.MessageID != "SM1" {
		t.Errorf("receipt = %+v", r)
	}

	_ = svc.Stop()
	if err := svc.Deliver(models.Response{From: "+2348000000001", Body: "late"}); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("Deliver after Stop = %v, want ErrServiceStopped", err)
	}
}
