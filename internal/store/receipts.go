package store

import (
	"context"
	"fmt"

	"github.com/BTreeMap/BloodLink/internal/models"
)

func (s *sqlStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO receipts (message_id, recipient, status, time) VALUES (?, ?, ?, ?)`,
		r.MessageID, r.To, string(r.Status), r.Time)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (s *sqlStore) GetReceipts(ctx context.Context, to string) ([]models.Receipt, error) {
	rows, err := s.query(ctx, s.db, `SELECT message_id, recipient, status, time FROM receipts WHERE recipient = ? ORDER BY id`, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var status string
		if err := rows.Scan(&r.MessageID, &r.To, &status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		r.Status = models.MessageStatus(status)
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}
