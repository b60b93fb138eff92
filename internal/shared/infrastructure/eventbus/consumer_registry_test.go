package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/shared/infrastructure/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConsumer struct {
	eventTypes []string
	events     []*eventbus.Event
	err        error
}

func (m *mockConsumer) EventTypes() []string {
	return m.eventTypes
}

func (m *mockConsumer) Handle(ctx context.Context, event *eventbus.Event) error {
	m.events = append(m.events, event)
	return m.err
}

func TestConsumerRegistry_Register(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry := eventbus.NewConsumerRegistry(logger)

	consumer := &mockConsumer{
		eventTypes: []string{"sync.user.requested", "profile.refresh.requested"},
	}

	registry.Register(consumer)

	// Should have consumers for both event types
	syncConsumers := registry.GetConsumers("sync.user.requested")
	assert.Len(t, syncConsumers, 1)

	profileConsumers := registry.GetConsumers("profile.refresh.requested")
	assert.Len(t, profileConsumers, 1)

	// Should return empty for unregistered types
	unknownConsumers := registry.GetConsumers("unknown.event.type")
	assert.Empty(t, unknownConsumers)
}

func TestConsumerRegistry_MultipleConsumers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry := eventbus.NewConsumerRegistry(logger)

	consumer1 := &mockConsumer{
		eventTypes: []string{"sync.user.requested"},
	}
	consumer2 := &mockConsumer{
		eventTypes: []string{"sync.user.requested", "sync.user.completed"},
	}

	registry.Register(consumer1)
	registry.Register(consumer2)

	requestedConsumers := registry.GetConsumers("sync.user.requested")
	assert.Len(t, requestedConsumers, 2)

	completedConsumers := registry.GetConsumers("sync.user.completed")
	assert.Len(t, completedConsumers, 1)
}

func TestConsumerRegistry_Dispatch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry := eventbus.NewConsumerRegistry(logger)

	consumer := &mockConsumer{
		eventTypes: []string{"sync.user.requested"},
	}
	registry.Register(consumer)

	event := &eventbus.Event{
		EventID:       uuid.New(),
		AggregateID:   uuid.New(),
		AggregateType: "User",
		RoutingKey:    "sync.user.requested",
	}

	ctx := context.Background()
	err := registry.Dispatch(ctx, event)
	require.NoError(t, err)

	// Consumer should have received the event
	assert.Len(t, consumer.events, 1)
	assert.Equal(t, event.EventID, consumer.events[0].EventID)
}

func TestConsumerRegistry_DispatchToMultipleConsumers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry := eventbus.NewConsumerRegistry(logger)

	consumer1 := &mockConsumer{
		eventTypes: []string{"sync.user.requested"},
	}
	consumer2 := &mockConsumer{
		eventTypes: []string{"sync.user.requested"},
	}

	registry.Register(consumer1)
	registry.Register(consumer2)

	event := &eventbus.Event{
		EventID:    uuid.New(),
		RoutingKey: "sync.user.requested",
	}

	ctx := context.Background()
	err := registry.Dispatch(ctx, event)
	require.NoError(t, err)

	assert.Len(t, consumer1.events, 1)
	assert.Len(t, consumer2.events, 1)
}

func TestConsumerRegistry_DispatchNoConsumers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry := eventbus.NewConsumerRegistry(logger)

	event := &eventbus.Event{
		EventID:    uuid.New(),
		RoutingKey: "unknown.event.type",
	}

	ctx := context.Background()
	err := registry.Dispatch(ctx, event)

	// Should not error, just return nil
	require.NoError(t, err)
}

func TestConsumerRegistry_DispatchConsumerError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry := eventbus.NewConsumerRegistry(logger)

	expectedErr := errors.New("consumer error")
	consumer := &mockConsumer{
		eventTypes: []string{"sync.user.requested"},
		err:        expectedErr,
	}
	registry.Register(consumer)

	event := &eventbus.Event{
		EventID:    uuid.New(),
		RoutingKey: "sync.user.requested",
	}

	ctx := context.Background()
	err := registry.Dispatch(ctx, event)

	// Should return the error from the consumer
	assert.Equal(t, expectedErr, err)
	// But event should still have been passed to consumer
	assert.Len(t, consumer.events, 1)
}

func TestConsumerRegistry_DispatchContinuesAfterError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry := eventbus.NewConsumerRegistry(logger)

	// First consumer will error
	consumer1 := &mockConsumer{
		eventTypes: []string{"sync.user.requested"},
		err:        errors.New("consumer 1 error"),
	}
	// Second consumer should still receive the event
	consumer2 := &mockConsumer{
		eventTypes: []string{"sync.user.requested"},
	}

	registry.Register(consumer1)
	registry.Register(consumer2)

	event := &eventbus.Event{
		EventID:    uuid.New(),
		RoutingKey: "sync.user.requested",
	}

	ctx := context.Background()
	err := registry.Dispatch(ctx, event)

	assert.Error(t, err)
	assert.Len(t, consumer1.events, 1)
	assert.Len(t, consumer2.events, 1)
}

func TestConsumerRegistry_GetAllEventTypes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry := eventbus.NewConsumerRegistry(logger)

	consumer := &mockConsumer{
		eventTypes: []string{"sync.user.requested", "profile.refresh.requested"},
	}
	registry.Register(consumer)

	eventTypes := registry.GetAllEventTypes()
	assert.Len(t, eventTypes, 2)
	assert.Contains(t, eventTypes, "sync.user.requested")
	assert.Contains(t, eventTypes, "profile.refresh.requested")
}

func TestConsumerRegistry_ConsumerCount(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry := eventbus.NewConsumerRegistry(logger)

	assert.Equal(t, 0, registry.ConsumerCount())

	consumer1 := &mockConsumer{
		eventTypes: []string{"sync.user.requested"},
	}
	registry.Register(consumer1)
	assert.Equal(t, 1, registry.ConsumerCount())

	consumer2 := &mockConsumer{
		eventTypes: []string{"sync.user.requested", "sync.user.completed"},
	}
	registry.Register(consumer2)
	// consumer2 handles 2 event types, so count is 3
	assert.Equal(t, 3, registry.ConsumerCount())
}

func TestEventEncodeDecode(t *testing.T) {
	type payload struct {
		UserID  string `json:"user_id"`
		Attempt int    `json:"attempt"`
	}

	event, err := eventbus.NewEvent("sync.user.requested", uuid.New(), "User", payload{UserID: "u1", Attempt: 2})
	require.NoError(t, err)

	body, err := event.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(body), "sync.user.requested")

	var got payload
	require.NoError(t, event.DecodePayload(&got))
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, 2, got.Attempt)
}
