package messaging

import (
	"context"
	"hash/fnv"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/BloodLink/internal/metrics"
	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/validation"
)

// DefaultWorkers is the number of dispatcher shards.
const DefaultWorkers = 8

// Router turns one inbound message into exactly one reply.
type Router interface {
	Dispatch(ctx context.Context, phone, text string, media *models.Media) string
}

// InboundLog deduplicates provider message IDs.
type InboundLog interface {
	RecordInbound(ctx context.Context, messageID, phone string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// ReceiptSink persists delivery receipts.
type ReceiptSink interface {
	AddReceipt(ctx context.Context, r models.Receipt) error
}

// Dispatcher drains a Service's inbound channel into the Router. Messages
// are sharded by phone so each phone is handled in arrival order while
// different phones proceed in parallel.
type Dispatcher struct {
	svc      Service
	router   Router
	dedup    InboundLog
	receipts ReceiptSink
	workers  int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithInboundLog enables deduplication of redelivered messages.
func WithInboundLog(l InboundLog) DispatcherOption {
	return func(d *Dispatcher) { d.dedup = l }
}

// WithReceiptSink stores receipts emitted by the service.
func WithReceiptSink(s ReceiptSink) DispatcherOption {
	return func(d *Dispatcher) { d.receipts = s }
}

// WithWorkers sets the shard count.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// NewDispatcher creates a dispatcher for svc.
func NewDispatcher(svc Service, router Router, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{svc: svc, router: router, workers: DefaultWorkers}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run blocks until ctx is cancelled or the service closes its channels.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	shards := make([]chan models.Response, d.workers)
	for i := range shards {
		ch := make(chan models.Response, DefaultChannelBufferSize)
		shards[i] = ch
		g.Go(func() error {
			for resp := range ch {
				d.Handle(gctx, resp)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		in := d.svc.Responses()
		for {
			select {
			case <-gctx.Done():
				return nil
			case resp, ok := <-in:
				if !ok {
					return nil
				}
				shards[shardOf(resp.From, len(shards))] <- resp
			}
		}
	})

	g.Go(func() error {
		receipts := d.svc.Receipts()
		for {
			select {
			case <-gctx.Done():
				return nil
			case r, ok := <-receipts:
				if !ok {
					return nil
				}
				d.storeReceipt(gctx, r)
			}
		}
	})

	slog.Info("Dispatcher.Run: started", "workers", d.workers)
	err := g.Wait()
	slog.Info("Dispatcher.Run: stopped")
	return err
}

// Handle processes one inbound message: dedup, route, reply.
func (d *Dispatcher) Handle(ctx context.Context, resp models.Response) {
	phone, err := validation.CanonicalPhone(resp.From)
	if err != nil {
		slog.Warn("Dispatcher.Handle: dropping message from invalid sender", "from", resp.From, "error", err)
		return
	}

	if d.dedup != nil && resp.MessageID != "" {
		fresh, err := d.dedup.RecordInbound(ctx, resp.MessageID, phone)
		if err != nil {
			slog.Error("Dispatcher.Handle: dedup record failed", "messageID", resp.MessageID, "error", err)
		} else if !fresh {
			metrics.DuplicateInbound.Inc()
			slog.Info("Dispatcher.Handle: duplicate delivery dropped", "messageID", resp.MessageID, "phone", phone)
			return
		}
	}

	reply := d.router.Dispatch(ctx, phone, resp.Body, resp.Media)
	err = d.svc.SendMessage(ctx, phone, reply)
	if err != nil {
		metrics.OutboundMessages.WithLabelValues("error").Inc()
		slog.Error("Dispatcher.Handle: reply failed", "phone", phone, "error", err)
	} else {
		metrics.OutboundMessages.WithLabelValues("sent").Inc()
	}

	if d.dedup != nil && resp.MessageID != "" {
		if err := d.dedup.MarkProcessed(ctx, resp.MessageID); err != nil {
			slog.Warn("Dispatcher.Handle: mark processed failed", "messageID", resp.MessageID, "error", err)
		}
	}
}

func (d *Dispatcher) storeReceipt(ctx context.Context, r models.Receipt) {
	if d.receipts == nil {
		return
	}
	if err := d.receipts.AddReceipt(ctx, r); err != nil {
		slog.Warn("Dispatcher.storeReceipt: failed", "to", r.To, "status", r.Status, "error", err)
	}
}

func shardOf(phone string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(phone))
	return int(h.Sum32() % uint32(n))
}
