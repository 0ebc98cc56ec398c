package eventing

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultDispatchBatch = 50

// Deliverer hands an envelope to subscribers.
type Deliverer interface {
	Deliver(ctx context.Context, env Envelope) error
}

// OutboxStore provides access to outbox records. ClaimPending hands each
// pending record to one caller only until it is marked sent or failed.
type OutboxStore interface {
	ClaimPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// Dispatcher sends pending outbox records to the in-process bus.
type Dispatcher struct {
	mu     sync.Mutex
	bus    Deliverer
	outbox OutboxStore
	logger *zap.Logger
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus Deliverer, outbox OutboxStore, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{bus: bus, outbox: outbox, logger: logger}
}

// Dispatch claims pending outbox records and delivers them. Delivery
// failures mark the record failed and do not stop the batch. Calls on one
// dispatcher run one at a time.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) error {
	if d == nil || d.outbox == nil || d.bus == nil {
		return nil
	}
	if limit <= 0 {
		limit = defaultDispatchBatch
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	records, err := d.outbox.ClaimPending(ctx, limit)
	if err != nil {
		return err
	}

	for _, record := range records {
		if err := d.bus.Deliver(ctx, record.Envelope); err != nil {
			d.logger.Warn("outbox delivery failed",
				zap.String("outbox_id", record.ID),
				zap.String("event_id", record.Envelope.EventID),
				zap.String("event_type", record.Envelope.EventType),
				zap.Error(err))
			if err := d.outbox.MarkFailed(ctx, record.ID); err != nil {
				return err
			}
			continue
		}
		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			return err
		}
	}
	return nil
}
