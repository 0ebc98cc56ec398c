package eventing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type sampleEvent struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

func TestInMemoryBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewInMemoryBus()
	var calls []string
	bus.Subscribe(EventTypeOf[sampleEvent](), func(ctx context.Context, env Envelope) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	bus.Subscribe(EventTypeOf[sampleEvent](), func(ctx context.Context, env Envelope) error {
		calls = append(calls, "second")
		got, ok := EnvelopeFromContext(ctx)
		require.True(t, ok)
		require.Equal(t, env.EventID, got.EventID)
		return nil
	})

	err := bus.Publish(context.Background(), sampleEvent{ID: 1})
	require.EqualError(t, err, "boom")
	require.Equal(t, []string{"first", "second"}, calls)
}

func TestInMemoryBusRejectsNilEvent(t *testing.T) {
	bus := NewInMemoryBus()
	require.ErrorIs(t, bus.Publish(context.Background(), nil), ErrNilEvent)
}

func TestEnvelopeCarriesCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "run-1")
	env, err := BuildEnvelope(&sampleEvent{ID: 2, Label: "x"}, MetaFromContext(ctx))
	require.NoError(t, err)
	require.Equal(t, "run-1", env.CorrelationID)
	require.Equal(t, EventTypeOf[sampleEvent](), env.EventType)
	require.Equal(t, 1, env.SchemaVersion)
	require.NotEmpty(t, env.EventID)

	env, err = BuildEnvelope(sampleEvent{}, Meta{})
	require.NoError(t, err)
	require.Equal(t, env.EventID, env.CorrelationID)
}

func TestDecodePayloadFromOutboxEnvelope(t *testing.T) {
	env, err := BuildEnvelope(sampleEvent{ID: 5, Label: "alarm"}, Meta{})
	require.NoError(t, err)

	// Envelopes read back from storage lose the in-process value.
	stored := Envelope{EventID: env.EventID, EventType: env.EventType, Payload: env.Payload}
	event, err := DecodePayload[sampleEvent](stored)
	require.NoError(t, err)
	require.Equal(t, sampleEvent{ID: 5, Label: "alarm"}, event)

	_, err = DecodePayload[sampleEvent](Envelope{})
	require.ErrorIs(t, err, ErrNilEvent)
}
