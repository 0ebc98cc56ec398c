package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"equipment-maintops/internal/eventing"
	"equipment-maintops/internal/maintops/application"
)

const (
	eventStatusChanged      = "status_changed"
	eventConsistencyWarning = "consistency_warning"
	eventRecomputeWarnings  = "recompute_warnings"
)

// Subscriber registers event handlers.
type Subscriber interface {
	Subscribe(eventType string, handler eventing.EventHandler)
}

// Clock provides time for dedupe windows.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier turns maintenance events into operator notices: diagnosis
// status changes, and saves or recomputes that skipped cross-instance
// candidates.
type Notifier struct {
	channel      Channel
	template     *Template
	clock        Clock
	logger       *zap.Logger
	cooldown     time.Duration
	dedupeWindow time.Duration

	mu   sync.Mutex
	sent map[string]sendRecord
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithCooldown sets a minimum interval between notices for the same record
// and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notices within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs a notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("maintops notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		logger:   zap.NewNop(),
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Subscribe registers the notifier's handlers on the bus.
func (n *Notifier) Subscribe(bus Subscriber) {
	bus.Subscribe(eventing.EventTypeOf[application.DiagnosisStatusChanged](), n.handleStatusChanged)
	bus.Subscribe(eventing.EventTypeOf[application.CorrelationUpdated](), n.handleCorrelation)
	bus.Subscribe(eventing.EventTypeOf[application.InstanceRecomputed](), n.handleRecompute)
}

func (n *Notifier) handleStatusChanged(ctx context.Context, env eventing.Envelope) error {
	event, err := eventing.DecodePayload[application.DiagnosisStatusChanged](env)
	if err != nil {
		return err
	}
	record := event.Summary
	if record == "" {
		record = fmt.Sprintf("alert period %d", event.AlertPeriodID)
	}
	return n.dispatch(ctx, fmt.Sprintf("alert_period:%d", event.AlertPeriodID), TemplateData{
		Event:             eventStatusChanged,
		EventLabel:        "Diagnosis Status Changed",
		EquipmentInstance: event.EquipmentInstanceID,
		Record:            record,
		Status:            event.ToStatusName,
		OccurredAt:        event.OccurredAt.UTC().Format(time.RFC3339),
	})
}

func (n *Notifier) handleCorrelation(ctx context.Context, env eventing.Envelope) error {
	event, err := eventing.DecodePayload[application.CorrelationUpdated](env)
	if err != nil {
		return err
	}
	if len(event.Warnings) == 0 {
		return nil
	}
	return n.dispatch(ctx, fmt.Sprintf("%s:%d", event.Kind, event.ID), TemplateData{
		Event:             eventConsistencyWarning,
		EventLabel:        "Consistency Warning",
		EquipmentInstance: event.EquipmentInstanceID,
		Record:            fmt.Sprintf("%s %d", event.Kind, event.ID),
		Details:           event.Warnings,
		OccurredAt:        event.OccurredAt.UTC().Format(time.RFC3339),
	})
}

func (n *Notifier) handleRecompute(ctx context.Context, env eventing.Envelope) error {
	event, err := eventing.DecodePayload[application.InstanceRecomputed](env)
	if err != nil {
		return err
	}
	if event.Warnings == 0 {
		return nil
	}
	return n.dispatch(ctx, "instance:"+event.EquipmentInstanceID, TemplateData{
		Event:             eventRecomputeWarnings,
		EventLabel:        "Recompute Warnings",
		EquipmentInstance: event.EquipmentInstanceID,
		Record:            fmt.Sprintf("%d alarm, %d alert, %d diagnosis records", event.AlarmPeriods, event.AlertPeriods, event.ProblemDiagnoses),
		Details:           []string{fmt.Sprintf("%d cross-instance candidates skipped", event.Warnings)},
		OccurredAt:        event.OccurredAt.UTC().Format(time.RFC3339),
	})
}

func (n *Notifier) dispatch(ctx context.Context, recordKey string, data TemplateData) error {
	content, err := n.template.Render(data)
	if err != nil {
		return err
	}
	if !n.shouldSend(recordKey, data.Event, content) {
		n.logger.Debug("notification suppressed",
			zap.String("record", recordKey),
			zap.String("event", data.Event))
		return nil
	}
	if err := n.channel.Send(ctx, content); err != nil {
		n.logger.Warn("notification failed",
			zap.String("record", recordKey),
			zap.String("event", data.Event),
			zap.Error(err))
		return err
	}
	n.markSent(recordKey, data.Event, content)
	return nil
}

func (n *Notifier) shouldSend(recordKey, event, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()

	n.mu.Lock()
	record, ok := n.sent[notificationKey(recordKey, event)]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hashContent(content) && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(recordKey, event, content string) {
	n.mu.Lock()
	n.sent[notificationKey(recordKey, event)] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(recordKey, event string) string {
	return recordKey + "|" + event
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}
