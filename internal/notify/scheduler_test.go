package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCommands(t *testing.T) {
	f := newFixture(t, nil)
	cmds := f.scheduler.Commands()
	require.Len(t, cmds, 3)

	assert.Equal(t, Command{Name: "check_fluid", Message: "Check your fluid level", RepeatHours: 48}, cmds[0])
	assert.Equal(t, Command{Name: "harvest_plant", Message: "Time to harvest your plant", RepeatHours: 0}, cmds[1])
	assert.Equal(t, Command{Name: "take_measurements", Message: "Record your plant measurements", RepeatHours: 24, InitialRepeatHours: 168}, cmds[2])
}

func TestAdd_DefaultRepeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.scheduler.Add(ctx, "dev", CommandCheckFluid, -1))

	e, ok, err := f.scheduler.Entry(ctx, "dev", CommandCheckFluid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Entry{
		Command: "check_fluid",
		Message: "Check your fluid level",
		RunAt:   at(48),
		Repeat:  48,
		Count:   0,
	}, e)
}

func TestAdd_ReplacesInPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.scheduler.Add(ctx, "dev", CommandCheckFluid, 48))
	require.NoError(t, f.scheduler.Add(ctx, "dev", CommandTakeMeasurements, 24))
	require.NoError(t, f.scheduler.Add(ctx, "dev", CommandCheckFluid, 12))

	entries, err := f.scheduler.Entries(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, entries, 2, "at most one entry per command")
	assert.Equal(t, CommandCheckFluid, entries[0].Command)
	assert.Equal(t, 12, entries[0].Repeat)
	assert.Equal(t, at(12), entries[0].RunAt)
	assert.Equal(t, CommandTakeMeasurements, entries[1].Command)
}

func TestAdd_UnknownCommand(t *testing.T) {
	f := newFixture(t, nil)
	err := f.scheduler.Add(context.Background(), "dev", "water_plants", 1)
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestCheck_NotDueDoesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.scheduler.Add(ctx, "dev", CommandCheckFluid, -1))

	f.scheduler.SetTestingHours(47)
	fired, err := f.scheduler.Check(ctx, "dev")
	require.NoError(t, err)
	assert.Empty(t, fired)

	notes, err := f.notifications.All(ctx, "dev")
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestCheck_CheckFluidFiresAndRepeats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.scheduler.Add(ctx, "dev", CommandCheckFluid, -1))

	f.scheduler.SetTestingHours(48)
	fired, err := f.scheduler.Check(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, CommandCheckFluid, fired[0].Command)

	notes, err := f.notifications.All(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, Notification{
		ID:      "000001",
		Type:    TypeOK,
		Message: "Check your fluid level",
		Created: at(0),
	}, notes[0])

	e, ok, err := f.scheduler.Entry(ctx, "dev", CommandCheckFluid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at(96), e.RunAt)
	assert.Equal(t, 1, e.Count)
	assert.Equal(t, 48, e.Repeat)
}

func TestCheck_SecondCheckAtSameTimeDoesNotRefire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.scheduler.Add(ctx, "dev", CommandCheckFluid, -1))
	f.clock.Advance(48 * time.Hour)

	fired, err := f.scheduler.Check(ctx, "dev")
	require.NoError(t, err)
	assert.Len(t, fired, 1)

	fired, err = f.scheduler.Check(ctx, "dev")
	require.NoError(t, err)
	assert.Empty(t, fired)

	notes, err := f.notifications.All(ctx, "dev")
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestCheck_HarvestIsOneShot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.scheduler.Add(ctx, "dev", CommandHarvestPlant, 0))

	fired, err := f.scheduler.Check(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, fired, 1)

	entries, err := f.scheduler.Entries(ctx, "dev")
	require.NoError(t, err)
	assert.Empty(t, entries)

	notes, err := f.notifications.Unacknowledged(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Time to harvest your plant", notes[0].Message)
}

func TestCheck_TakeMeasurementsFallsBackAfterFirstFiring(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.scheduler.AddInitial(ctx, "dev", CommandTakeMeasurements))

	e, _, err := f.scheduler.Entry(ctx, "dev", CommandTakeMeasurements)
	require.NoError(t, err)
	assert.Equal(t, at(168), e.RunAt, "first firing a week out")
	assert.Equal(t, 168, e.Repeat)

	f.scheduler.SetTestingHours(167)
	fired, err := f.scheduler.Check(ctx, "dev")
	require.NoError(t, err)
	assert.Empty(t, fired)

	f.scheduler.SetTestingHours(168)
	fired, err = f.scheduler.Check(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, fired, 1)

	e, _, err = f.scheduler.Entry(ctx, "dev", CommandTakeMeasurements)
	require.NoError(t, err)
	assert.Equal(t, 24, e.Repeat, "default repeat after first firing")
	assert.Equal(t, at(192), e.RunAt)
	assert.Equal(t, 1, e.Count)

	f.scheduler.SetTestingHours(192)
	fired, err = f.scheduler.Check(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, fired, 1)

	e, _, err = f.scheduler.Entry(ctx, "dev", CommandTakeMeasurements)
	require.NoError(t, err)
	assert.Equal(t, 24, e.Repeat)
	assert.Equal(t, at(216), e.RunAt)
	assert.Equal(t, 2, e.Count)
}

func TestCheck_CustomRepeatIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.scheduler.Add(ctx, "dev", CommandTakeMeasurements, 6))

	f.scheduler.SetTestingHours(6)
	_, err := f.scheduler.Check(ctx, "dev")
	require.NoError(t, err)

	e, _, err := f.scheduler.Entry(ctx, "dev", CommandTakeMeasurements)
	require.NoError(t, err)
	assert.Equal(t, 6, e.Repeat)
	assert.Equal(t, at(12), e.RunAt)
}

func TestRemoveAndRemoveAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.scheduler.Add(ctx, "dev", CommandCheckFluid, -1))
	require.NoError(t, f.scheduler.Add(ctx, "dev", CommandTakeMeasurements, -1))

	require.NoError(t, f.scheduler.Remove(ctx, "dev", CommandCheckFluid))
	require.NoError(t, f.scheduler.Remove(ctx, "dev", "not_scheduled"))
	entries, err := f.scheduler.Entries(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, CommandTakeMeasurements, entries[0].Command)

	require.NoError(t, f.scheduler.RemoveAll(ctx, "dev"))
	entries, err = f.scheduler.Entries(ctx, "dev")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSetCommands(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.Error(t, f.scheduler.SetCommands(nil))
	require.Error(t, f.scheduler.SetCommands([]Command{{Name: ""}}))
	require.Error(t, f.scheduler.SetCommands([]Command{{Name: "a", RepeatHours: -1}}))
	require.Error(t, f.scheduler.SetCommands([]Command{{Name: "a"}, {Name: "a"}}))

	require.NoError(t, f.scheduler.SetCommands([]Command{
		{Name: "mist", Message: "Mist the leaves", RepeatHours: 6},
	}))
	require.NoError(t, f.scheduler.Add(ctx, "dev", "mist", -1))
	require.ErrorIs(t, f.scheduler.Add(ctx, "dev", CommandCheckFluid, -1), ErrUnknownCommand)

	e, ok, err := f.scheduler.Entry(ctx, "dev", "mist")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at(6), e.RunAt)
}

func TestTestingHours(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, epoch, f.scheduler.Now())

	f.scheduler.SetTestingHours(30)
	assert.Equal(t, 30, f.scheduler.TestingHours())
	assert.Equal(t, epoch.Add(30*time.Hour), f.scheduler.Now())
}
