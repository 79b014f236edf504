// Package messaging abstracts the chat transport. A Service sends text to
// a phone number and surfaces inbound messages and delivery receipts on
// channels; the Dispatcher drains the inbound channel into the flow Router.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/validation"
)

const (
	// DefaultChannelBufferSize is the buffer of the receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an emit waits on a full channel.
	DefaultChannelTimeout = 1 * time.Second

	// MediaOnlyBody stands in for the text of a message that only carries media.
	MediaOnlyBody = "media_upload"
	// EmptyBody stands in for a message with neither text nor media.
	EmptyBody = "hello"
)

// ErrServiceStopped is returned by operations on a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the E.164 form of recipient.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event subscription).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the channels.
	Stop() error

	// Receipts returns a channel of delivery receipt events.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of inbound messages.
	Responses() <-chan models.Response
}

// NormalizeInbound fills in the body of media-only and empty messages and
// assigns a message ID when the transport supplied none.
func NormalizeInbound(resp models.Response) models.Response {
	resp.Body = strings.TrimSpace(resp.Body)
	if resp.Body == "" {
		if resp.HasMedia() {
			resp.Body = MediaOnlyBody
		} else {
			resp.Body = EmptyBody
		}
	}
	if resp.MessageID == "" {
		resp.MessageID = uuid.NewString()
	}
	if resp.Time == 0 {
		resp.Time = time.Now().Unix()
	}
	return resp
}

func canonicalRecipient(recipient string) (string, error) {
	return validation.CanonicalPhone(recipient)
}

// channels is the receipt/response plumbing shared by the services.
type channels struct {
	name      string
	receipts  chan models.Receipt
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
}

func newChannels(name string) channels {
	return channels{
		name:      name,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

func (c *channels) Receipts() <-chan models.Receipt {
	return c.receipts
}

func (c *channels) Responses() <-chan models.Response {
	return c.responses
}

func (c *channels) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

// close marks the service stopped and closes both channels once.
func (c *channels) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.receipts)
	close(c.responses)
}

// emitResponse pushes an inbound message, dropping it if the channel stays
// full for DefaultChannelTimeout.
func (c *channels) emitResponse(resp models.Response) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		slog.Warn(c.name+".emitResponse: service stopped, dropping message", "from", resp.From)
		return ErrServiceStopped
	}
	select {
	case c.responses <- resp:
		slog.Debug(c.name+".emitResponse: inbound message forwarded", "from", resp.From, "messageID", resp.MessageID)
		return nil
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+".emitResponse: responses channel blocked, dropping message", "from", resp.From)
		return ErrChannelFull
	}
}

func (c *channels) emitReceipt(r models.Receipt) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return
	}
	select {
	case c.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+".emitReceipt: receipts channel blocked, dropping receipt", "to", r.To, "status", r.Status)
	}
}

// ErrChannelFull is returned when an inbound message could not be queued in time.
var ErrChannelFull = errors.New("inbound channel full")
