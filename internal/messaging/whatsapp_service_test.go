package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/whatsapp"
)

func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
	var _ Service = (*MockService)(nil)
}

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "whatsapp:+2348000000001", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(mockClient.Sent) != 1 || mockClient.Sent[0].To != "+2348000000001" {
		t.Fatalf("unexpected sends %+v", mockClient.Sent)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "+2348000000001" {
			t.Errorf("receipt.To = %s", receipt.To)
		}
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("receipt.Status = %s, want %s", receipt.Status, models.MessageStatusSent)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendMessage_Errors(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)

	if err := svc.SendMessage(context.Background(), "12", "hi"); err == nil {
		t.Error("expected invalid recipient error")
	}

	mockClient.Err = errors.New("socket closed")
	if err := svc.SendMessage(context.Background(), "+2348000000001", "hi"); err == nil {
		t.Error("expected client error")
	}
	select {
	case r := <-svc.Receipts():
		t.Errorf("no receipt expected on failure, got %+v", r)
	default:
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Receipts(); ok {
		t.Error("expected receipts channel closed")
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
	if err := svc.SendMessage(context.Background(), "+2348000000001", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("SendMessage after Stop = %v, want ErrServiceStopped", err)
	}
}
