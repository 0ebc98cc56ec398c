package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"equipment-maintops/internal/eventing"
	"equipment-maintops/internal/maintops/application"
)

const (
	ActionStatusChanged = "diagnosis_status.changed"
	ActionRecomputed    = "equipment_instance.recomputed"
)

// Subscriber registers event handlers.
type Subscriber interface {
	Subscribe(eventType string, handler eventing.EventHandler)
}

// Recorder keeps an audit trail of operator status moves and batch
// recomputes.
type Recorder struct {
	log    Logger
	logger *zap.Logger
}

// NewRecorder constructs a recorder. Without a Logger entries only go to
// the structured log.
func NewRecorder(log Logger, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{log: log, logger: logger}
}

// Subscribe registers the recorder's handlers on the bus.
func (r *Recorder) Subscribe(bus Subscriber) {
	bus.Subscribe(eventing.EventTypeOf[application.DiagnosisStatusChanged](), r.handleStatusChanged)
	bus.Subscribe(eventing.EventTypeOf[application.InstanceRecomputed](), r.handleRecomputed)
}

func (r *Recorder) handleStatusChanged(ctx context.Context, env eventing.Envelope) error {
	event, err := eventing.DecodePayload[application.DiagnosisStatusChanged](env)
	if err != nil {
		return err
	}
	return r.record(ctx, env, Entry{
		Action:              ActionStatusChanged,
		ResourceType:        "alert_period",
		ResourceID:          fmt.Sprint(event.AlertPeriodID),
		EquipmentInstanceID: event.EquipmentInstanceID,
		CreatedAt:           event.OccurredAt,
	})
}

func (r *Recorder) handleRecomputed(ctx context.Context, env eventing.Envelope) error {
	event, err := eventing.DecodePayload[application.InstanceRecomputed](env)
	if err != nil {
		return err
	}
	return r.record(ctx, env, Entry{
		Action:              ActionRecomputed,
		ResourceType:        "equipment_instance",
		ResourceID:          event.EquipmentInstanceID,
		EquipmentInstanceID: event.EquipmentInstanceID,
		CreatedAt:           event.OccurredAt,
	})
}

func (r *Recorder) record(ctx context.Context, env eventing.Envelope, entry Entry) error {
	entry.CorrelationID = env.CorrelationID
	entry.Metadata = env.Payload
	r.logger.Info("audit",
		zap.String("action", entry.Action),
		zap.String("resource_type", entry.ResourceType),
		zap.String("resource_id", entry.ResourceID),
		zap.String("equipment_instance", entry.EquipmentInstanceID),
		zap.String("correlation_id", entry.CorrelationID))
	if r.log == nil {
		return nil
	}
	if err := r.log.Log(ctx, entry); err != nil {
		r.logger.Warn("audit write failed", zap.String("action", entry.Action), zap.Error(err))
		return err
	}
	return nil
}
