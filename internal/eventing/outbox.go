package eventing

import (
	"context"
	"errors"
)

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// OutboxPublisher writes events to the outbox and triggers a dispatch.
// The insert happens after the entity write has committed: once inserted,
// an event survives subscriber failures and restarts, but a crash between
// commit and insert drops it. RecomputeInstances rebuilds the state any
// lost event described.
type OutboxPublisher struct {
	outbox   OutboxWriter
	dispatch *Dispatcher
}

// NewOutboxPublisher constructs a publisher.
func NewOutboxPublisher(outbox OutboxWriter, dispatch *Dispatcher) (*OutboxPublisher, error) {
	if outbox == nil {
		return nil, errors.New("eventing: nil outbox")
	}
	return &OutboxPublisher{outbox: outbox, dispatch: dispatch}, nil
}

// Publish writes the event to the outbox and triggers dispatch. A failed
// dispatch leaves the record pending for the next run.
func (p *OutboxPublisher) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx))
	if err != nil {
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		return err
	}
	if p.dispatch != nil {
		_ = p.dispatch.Dispatch(ctx, 0)
	}
	return nil
}
