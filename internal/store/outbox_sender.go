package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/BloodLink/internal/metrics"
)

// Outbox sender defaults.
const (
	DefaultOutboxPollInterval   = 5 * time.Second
	DefaultOutboxStaleThreshold = 5 * time.Minute
	DefaultOutboxClaimLimit     = 10
	DefaultOutboxBaseBackoff    = 10 * time.Second
	DefaultOutboxMaxBackoff     = 30 * time.Minute
)

// OutboxSendFunc delivers one queued alert through the messaging service.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSenderOption configures an OutboxSender.
type OutboxSenderOption func(*OutboxSender)

// WithPollInterval sets how often due messages are claimed.
func WithPollInterval(d time.Duration) OutboxSenderOption {
	return func(s *OutboxSender) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithStaleThreshold sets how long a claimed message may stay in sending
// state before RecoverStaleMessages requeues it.
func WithStaleThreshold(d time.Duration) OutboxSenderOption {
	return func(s *OutboxSender) { s.staleThreshold = d }
}

// WithClaimLimit caps the batch size of one poll.
func WithClaimLimit(n int) OutboxSenderOption {
	return func(s *OutboxSender) {
		if n > 0 {
			s.claimLimit = n
		}
	}
}

// WithBackoff sets the first retry delay and its ceiling.
func WithBackoff(base, max time.Duration) OutboxSenderOption {
	return func(s *OutboxSender) {
		s.baseBackoff = base
		s.maxBackoff = max
	}
}

// OutboxSender drains the alert outbox: request broadcasts and donation
// confirmations queued by the matching flows are sent here, retried with
// exponential backoff and dead-lettered after MaxOutboxAttempts.
type OutboxSender struct {
	repo           OutboxRepo
	send           OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// NewOutboxSender builds a sender over repo.
func NewOutboxSender(repo OutboxRepo, send OutboxSendFunc, opts ...OutboxSenderOption) *OutboxSender {
	s := &OutboxSender{
		repo:           repo,
		send:           send,
		pollInterval:   DefaultOutboxPollInterval,
		staleThreshold: DefaultOutboxStaleThreshold,
		claimLimit:     DefaultOutboxClaimLimit,
		baseBackoff:    DefaultOutboxBaseBackoff,
		maxBackoff:     DefaultOutboxMaxBackoff,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecoverStaleMessages requeues messages a previous process claimed but
// never finished. Call once at startup, before Run.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	n, err := s.repo.RequeueStaleSendingMessages(ctx, s.now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: started", "poll_interval", s.pollInterval, "claim_limit", s.claimLimit)
	s.poll(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopped")
			return
		case <-ticker.C:
			// A full batch usually means more is due; keep draining.
			for s.poll(ctx) == s.claimLimit && ctx.Err() == nil {
			}
		}
	}
}

// poll sends one batch and returns how many messages it claimed.
func (s *OutboxSender) poll(ctx context.Context) int {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(ctx, now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.poll: claim failed", "error", err)
		return 0
	}
	for _, msg := range msgs {
		err := s.send(ctx, msg)
		metrics.OutboundMessages.WithLabelValues(outcome(err)).Inc()
		if err == nil {
			if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
				slog.Error("OutboxSender.poll: mark sent failed", "id", msg.ID, "error", err)
			}
			continue
		}
		retryAt := now.Add(s.backoff(msg.Attempts))
		slog.Warn("OutboxSender.poll: send failed", "id", msg.ID, "kind", msg.Kind, "attempt", msg.Attempts+1, "retry_at", retryAt, "error", err)
		if msg.Attempts+1 >= MaxOutboxAttempts {
			slog.Error("OutboxSender.poll: giving up on message", "id", msg.ID, "phone", msg.Phone, "kind", msg.Kind)
		}
		if err := s.repo.FailOutboxMessage(ctx, msg.ID, err.Error(), retryAt); err != nil {
			slog.Error("OutboxSender.poll: record failure failed", "id", msg.ID, "error", err)
		}
	}
	return len(msgs)
}

// backoff doubles per attempt: base, 2*base, 4*base, capped at maxBackoff.
func (s *OutboxSender) backoff(attempts int) time.Duration {
	d := s.baseBackoff
	for i := 0; i < attempts && d < s.maxBackoff; i++ {
		d *= 2
	}
	if s.maxBackoff > 0 && d > s.maxBackoff {
		d = s.maxBackoff
	}
	return d
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "sent"
}
