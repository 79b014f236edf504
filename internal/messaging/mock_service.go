package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
)

// SentMessage is an outbound message recorded by MockService.
type SentMessage struct {
	To   string
	Body string
}

// MockService is an in-memory Service for tests and local runs.
type MockService struct {
	channels
	mu   sync.Mutex
	sent []SentMessage
	// Err, when set, is returned by SendMessage.
	Err error
}

// NewMockService creates a MockService.
func NewMockService() *MockService {
	return &MockService{channels: newChannels("MockService")}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalRecipient(recipient)
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error {
	m.close()
	return nil
}

// SendMessage records the message and emits a sent receipt.
func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	if m.isStopped() {
		return ErrServiceStopped
	}
	m.mu.Lock()
	if m.Err != nil {
		m.mu.Unlock()
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	m.mu.Unlock()
	m.emitReceipt(models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Inject delivers an inbound message as if it came from the transport.
func (m *MockService) Inject(resp models.Response) error {
	return m.emitResponse(NormalizeInbound(resp))
}

// Sent returns a copy of the recorded outbound messages.
func (m *MockService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
