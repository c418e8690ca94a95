package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planforge/planforge/internal/types"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cleanup := bus.Subscribe(context.Background(), Filter{}, 4)
	defer cleanup()

	event := Event{
		Type:      EventStepCompleted,
		PlanID:    types.NewID(),
		StepID:    "step-1",
		Timestamp: time.Now(),
	}
	require.NoError(t, bus.Publish(context.Background(), event))

	select {
	case got := <-ch:
		assert.Equal(t, EventStepCompleted, got.Type)
		assert.Equal(t, event.PlanID, got.PlanID)
		assert.Equal(t, "step-1", got.StepID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribe_TypeFilter(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cleanup := bus.Subscribe(context.Background(), Filter{
		Types: []EventType{EventStepFailed},
	}, 4)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Event{Type: EventStepStarted, StepID: "a"}))
	require.NoError(t, bus.Publish(ctx, Event{Type: EventStepFailed, StepID: "a"}))
	require.NoError(t, bus.Publish(ctx, Event{Type: EventStepCompleted, StepID: "a"}))

	select {
	case got := <-ch:
		assert.Equal(t, EventStepFailed, got.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case got := <-ch:
		t.Fatalf("unexpected extra event %s", got.Type)
	default:
	}
}

func TestSubscribe_PlanFilter(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	mine := types.NewID()
	ch, cleanup := bus.Subscribe(context.Background(), Filter{PlanID: mine}, 4)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Event{Type: EventPlanCreated, PlanID: types.NewID()}))
	require.NoError(t, bus.Publish(ctx, Event{Type: EventPlanCreated, PlanID: mine}))

	select {
	case got := <-ch:
		assert.Equal(t, mine, got.PlanID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	assert.Empty(t, ch)
}

func TestPublish_DropsOnFullBuffer(t *testing.T) {
	var dropped []Event
	bus := NewBus(WithDropHandler(func(e Event) {
		dropped = append(dropped, e)
	}))
	defer bus.Close()

	ch, cleanup := bus.Subscribe(context.Background(), Filter{}, 1)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Event{Type: EventStepStarted, StepID: "first"}))
	require.NoError(t, bus.Publish(ctx, Event{Type: EventStepStarted, StepID: "second"}))

	require.Len(t, dropped, 1)
	assert.Equal(t, "second", dropped[0].StepID)

	got := <-ch
	assert.Equal(t, "first", got.StepID)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cleanup := bus.Subscribe(context.Background(), Filter{}, 4)
	cleanup()

	// Channel is closed and the subscriber no longer receives.
	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventStepStarted}))
}

func TestClose(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe(context.Background(), Filter{}, 4)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "close is idempotent")

	_, open := <-ch
	assert.False(t, open)

	err := bus.Publish(context.Background(), Event{Type: EventStepStarted})
	assert.Error(t, err)
}

func TestFilter_Matches(t *testing.T) {
	planID := types.NewID()

	tests := []struct {
		name   string
		filter Filter
		event  Event
		want   bool
	}{
		{"empty filter matches everything", Filter{}, Event{Type: EventStepStarted}, true},
		{
			"type match",
			Filter{Types: []EventType{EventStepStarted, EventStepFailed}},
			Event{Type: EventStepFailed},
			true,
		},
		{
			"type mismatch",
			Filter{Types: []EventType{EventStepStarted}},
			Event{Type: EventCheckpointCreated},
			false,
		},
		{"plan match", Filter{PlanID: planID}, Event{Type: EventPlanCreated, PlanID: planID}, true},
		{"plan mismatch", Filter{PlanID: planID}, Event{Type: EventPlanCreated, PlanID: types.NewID()}, false},
		{
			"plan matches but type does not",
			Filter{PlanID: planID, Types: []EventType{EventStepFailed}},
			Event{Type: EventPlanCreated, PlanID: planID},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.event))
		})
	}
}
