package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/growline/internal/bus"
)

func TestEventTypeForAction(t *testing.T) {
	tests := []struct {
		action string
		want   EventType
		ok     bool
	}{
		{"start", EventRecipeStart, true},
		{"stop", EventRecipeStop, true},
		{"end", EventRecipeEnd, true},
		{"pause", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			got, ok := EventTypeForAction(tt.action)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestEvent_Validate(t *testing.T) {
	assert.NoError(t, Event{DeviceID: "dev", Type: EventRecipeStart, Message: "basil"}.Validate())
	assert.ErrorIs(t, Event{Type: EventRecipeStart}.Validate(), ErrInvalidEvent)
	assert.ErrorIs(t, Event{DeviceID: "dev", Type: "recipe_pause"}.Validate(), ErrInvalidEvent)
}

func TestService_StartThenStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.service.Apply(ctx, Event{DeviceID: "dev", Type: EventRecipeStart, Message: "basil"}))

	entries, err := f.scheduler.Entries(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, CommandCheckFluid, entries[0].Command)
	assert.Equal(t, at(48), entries[0].RunAt)
	assert.Equal(t, CommandTakeMeasurements, entries[1].Command)
	assert.Equal(t, at(168), entries[1].RunAt)

	run, ok, err := f.runs.Latest(ctx, "dev")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "basil", run.RecipeName)
	assert.True(t, run.Open())

	f.clock.Advance(3 * time.Hour)
	require.NoError(t, f.service.Apply(ctx, Event{DeviceID: "dev", Type: EventRecipeStop, Message: "basil"}))

	entries, err = f.scheduler.Entries(ctx, "dev")
	require.NoError(t, err)
	assert.Empty(t, entries)

	run, _, err = f.runs.Latest(ctx, "dev")
	require.NoError(t, err)
	assert.False(t, run.Open())
	assert.Equal(t, at(3), run.End)
}

func TestService_EndSchedulesHarvest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.service.Apply(ctx, Event{DeviceID: "dev", Type: EventRecipeStart, Message: "kale"}))
	require.NoError(t, f.service.Handle(ctx, Event{DeviceID: "dev", Type: EventRecipeEnd, Message: "kale"}))

	// Handle checks immediately, so the one-shot harvest entry has fired.
	entries, err := f.scheduler.Entries(ctx, "dev")
	require.NoError(t, err)
	assert.Empty(t, entries)

	notes, err := f.notifications.All(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Time to harvest your plant", notes[0].Message)

	run, _, err := f.runs.Latest(ctx, "dev")
	require.NoError(t, err)
	assert.False(t, run.Open())
}

func TestService_HandleRejectsInvalidEvent(t *testing.T) {
	f := newFixture(t, nil)
	err := f.service.Handle(context.Background(), Event{DeviceID: "dev", Type: "recipe_pause"})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestService_PublishAndHandleMessage(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	f := newFixture(t, pub)

	ev := Event{DeviceID: "dev", Type: EventRecipeStart, Message: "basil"}
	require.NoError(t, f.service.Publish(ctx, ev))
	require.Equal(t, []string{bus.TopicRecipes}, pub.topics)

	var decoded Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, ev, decoded)

	err := f.service.HandleMessage(ctx, bus.Message{ID: "m1", Topic: bus.TopicRecipes, Data: pub.payloads[0]})
	require.NoError(t, err)

	entries, err := f.scheduler.Entries(ctx, "dev")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	assert.NoError(t, f.service.HandleMessage(ctx, bus.Message{ID: "m2", Data: []byte("not json")}),
		"bad payloads are acknowledged")
}

func TestService_PublishWithoutPublisher(t *testing.T) {
	f := newFixture(t, nil)
	err := f.service.Publish(context.Background(), Event{DeviceID: "dev", Type: EventRecipeStop})
	require.Error(t, err)
}
