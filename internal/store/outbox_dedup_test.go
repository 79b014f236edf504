package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --- Outbox repo tests ---

func TestSQLiteStore_OutboxRepo_EnqueueAndClaim(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueOutboxMessage(ctx, "+2348000000001", "request_broadcast", "Urgent: O+ needed", "")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}
	if id == "" {
		t.Fatal("EnqueueOutboxMessage returned empty ID")
	}

	msgs, err := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Phone != "+2348000000001" || msgs[0].Body != "Urgent: O+ needed" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
	if msgs[0].Status != OutboxStatusSending {
		t.Errorf("Expected status 'sending', got %q", msgs[0].Status)
	}
}

func TestSQLiteStore_OutboxRepo_DedupeKey(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := s.EnqueueOutboxMessage(ctx, "+1", "request_broadcast", "hi", "REQ-1:+1")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage 1 failed: %v", err)
	}
	id2, err := s.EnqueueOutboxMessage(ctx, "+1", "request_broadcast", "hi", "REQ-1:+1")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage 2 failed: %v", err)
	}
	if id2 != id1 {
		t.Errorf("Expected same ID for duplicate dedupe key, got %q and %q", id1, id2)
	}
}

func TestSQLiteStore_OutboxRepo_MarkSent(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueOutboxMessage(ctx, "+1", "request_broadcast", "hi", "")
	msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if err := s.MarkOutboxMessageSent(ctx, id); err != nil {
		t.Fatalf("MarkOutboxMessageSent failed: %v", err)
	}
	if again, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10); len(again) != 0 {
		t.Errorf("Expected 0 messages after sent, got %d", len(again))
	}
}

func TestSQLiteStore_OutboxRepo_FailRetryThenGiveUp(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueOutboxMessage(ctx, "+1", "request_broadcast", "hi", "")
	for attempt := 1; attempt <= MaxOutboxAttempts; attempt++ {
		msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
		if len(msgs) != 1 {
			t.Fatalf("attempt %d: expected 1 claimable message, got %d", attempt, len(msgs))
		}
		if err := s.FailOutboxMessage(ctx, id, "provider down", time.Now().Add(-time.Second)); err != nil {
			t.Fatalf("FailOutboxMessage failed: %v", err)
		}
	}
	if msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10); len(msgs) != 0 {
		t.Errorf("message should be failed after %d attempts, still claimable", MaxOutboxAttempts)
	}
}

func TestSQLiteStore_OutboxRepo_RequeueStale(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	s.EnqueueOutboxMessage(ctx, "+1", "request_broadcast", "hi", "")
	s.ClaimDueOutboxMessages(ctx, time.Now(), 10)

	n, err := s.RequeueStaleSendingMessages(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleSendingMessages failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 requeued, got %d", n)
	}
}

// --- Dedup repo tests ---

func TestSQLiteStore_DedupRepo_Basic(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	isNew, err := s.RecordInbound(ctx, "SM1", "+2348000000001")
	if err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	if !isNew {
		t.Error("Expected isNew=true for first record")
	}

	isNew2, err := s.RecordInbound(ctx, "SM1", "+2348000000001")
	if err != nil {
		t.Fatalf("RecordInbound duplicate failed: %v", err)
	}
	if isNew2 {
		t.Error("Expected isNew=false for duplicate record")
	}
}

func TestSQLiteStore_DedupRepo_ConcurrentDeliveriesRecordOnce(t *testing.T) {
	s := newTestSQLiteStore(t)
	var fresh int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.RecordInbound(context.Background(), "SM-retry", "+1")
			if err != nil {
				t.Errorf("RecordInbound failed: %v", err)
			}
			if ok {
				atomic.AddInt32(&fresh, 1)
			}
		}()
	}
	wg.Wait()
	if fresh != 1 {
		t.Errorf("expected exactly one fresh record, got %d", fresh)
	}
}

func TestSQLiteStore_DedupRepo_MarkProcessedAndPrune(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	s.RecordInbound(ctx, "SM2", "+2")
	if err := s.MarkProcessed(ctx, "SM2"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	n, err := s.PruneDedup(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("PruneDedup() = %d, %v; want 1", n, err)
	}
	if isNew, _ := s.RecordInbound(ctx, "SM2", "+2"); !isNew {
		t.Error("pruned message still treated as a duplicate")
	}
}

// --- OutboxSender tests ---

func TestOutboxSender_Basic(t *testing.T) {
	s := newTestSQLiteStore(t)

	var sent int32
	sendFunc := func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&sent, 1)
		return nil
	}
	sender := NewOutboxSender(s, sendFunc, WithPollInterval(50*time.Millisecond))

	if _, err := s.EnqueueOutboxMessage(context.Background(), "+1", "request_broadcast", "hi", ""); err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	sender.Run(ctx)

	if atomic.LoadInt32(&sent) != 1 {
		t.Errorf("Expected 1 send, got %d", atomic.LoadInt32(&sent))
	}
}

func TestOutboxSender_FailureSchedulesRetry(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		return errors.New("twilio 503")
	})

	s.EnqueueOutboxMessage(ctx, "+1", "request_broadcast", "hi", "")
	if n := sender.poll(ctx); n != 1 {
		t.Fatalf("poll claimed %d, want 1", n)
	}
	// Backoff pushes the retry into the future.
	if n := sender.poll(ctx); n != 0 {
		t.Errorf("retry claimed before backoff elapsed: %d", n)
	}
}

// TestOutboxSender_RestartRecovery simulates a crash while a message was
// being sent: the next process requeues it and delivers it exactly once.
func TestOutboxSender_RestartRecovery(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	s.EnqueueOutboxMessage(ctx, "+1", "request_broadcast", "hi", "")
	// Claimed an hour ago by a process that never finished.
	if msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now().Add(-time.Hour), 10); len(msgs) != 1 {
		t.Fatalf("expected to claim the message")
	}

	var sent int32
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&sent, 1)
		return nil
	}, WithStaleThreshold(time.Minute))
	if err := sender.RecoverStaleMessages(ctx); err != nil {
		t.Fatalf("RecoverStaleMessages failed: %v", err)
	}
	sender.poll(ctx)
	sender.poll(ctx)
	if sent != 1 {
		t.Errorf("Expected exactly 1 delivery after recovery, got %d", sent)
	}
}

func TestOutboxSender_Backoff(t *testing.T) {
	sender := NewOutboxSender(nil, nil, WithBackoff(10*time.Second, time.Minute))
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{2, 40 * time.Second},
		{3, time.Minute},
		{10, time.Minute},
	}
	for _, tt := range tests {
		if got := sender.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
