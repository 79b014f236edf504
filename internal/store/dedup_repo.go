package store

import (
	"context"
	"fmt"
	"time"
)

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Phone       string     `json:"phone"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
// Providers retry webhooks, so every inbound MessageSid is recorded once.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, phone string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error

	// PruneDedup drops records received before the cutoff.
	PruneDedup(ctx context.Context, before time.Time) (int64, error)
}

var _ DedupRepo = (*sqlStore)(nil)

// RecordInbound relies on the primary key instead of a read-then-insert, so
// two deliveries of the same message racing each other record exactly once.
func (s *sqlStore) RecordInbound(ctx context.Context, messageID, phone string) (bool, error) {
	res, err := s.exec(ctx, s.db,
		`INSERT INTO inbound_dedup (message_id, phone, received_at) VALUES (?, ?, ?) ON CONFLICT (message_id) DO NOTHING`,
		messageID, phone, utc(time.Now()))
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return n == 1, nil
}

func (s *sqlStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.exec(ctx, s.db, `UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, utc(time.Now()), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *sqlStore) PruneDedup(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM inbound_dedup WHERE received_at < ?`, utc(before))
	if err != nil {
		return 0, fmt.Errorf("prune dedup failed: %w", err)
	}
	return res.RowsAffected()
}
