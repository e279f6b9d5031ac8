package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/growline/internal/notify"
	"github.com/roach88/growline/internal/testutil"
)

func intp(n int) *int { return &n }

func startRecipe(device, recipe string) Step {
	return Step{Device: device, Message: map[string]any{
		"messageType": "RecipeEvent",
		"action":      "start",
		"name":        recipe,
	}}
}

func TestRun_RecipeStartSchedulesTwoCommands(t *testing.T) {
	testutil.SilenceLogs(t)

	scenario := &Scenario{
		Name:  "start",
		Steps: []Step{startRecipe("dev-1", "basil")},
		Assertions: []Assertion{
			{Type: AssertSchedule, Device: "dev-1", Commands: []string{"take_measurements", "check_fluid"}},
			{Type: AssertRun, Device: "dev-1", Count: intp(1), Expect: map[string]any{"open": true, "recipe_name": "basil"}},
			{Type: AssertNotifications, Device: "dev-1", Count: intp(0)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, TraceEvent{Seq: 1, At: "2026-01-01T00:00:00Z", Device: "dev-1", Step: "RecipeEvent"}, result.Trace[0])
}

func TestRun_CheckFiresWhenDue(t *testing.T) {
	testutil.SilenceLogs(t)

	scenario := &Scenario{
		Name: "due",
		Steps: []Step{
			startRecipe("dev-1", "basil"),
			{Device: "dev-1", AdvanceHours: 47, Check: true},
			{Device: "dev-1", AdvanceHours: 1, Check: true},
		},
		Assertions: []Assertion{
			{Type: AssertFiredCount, Command: notify.CommandCheckFluid, Count: intp(1)},
			{Type: AssertNotifications, Device: "dev-1", Count: intp(1), Unacked: intp(1)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 3)
	assert.Empty(t, result.Trace[1].Fired)
	assert.Equal(t, []string{notify.CommandCheckFluid}, result.Trace[2].Fired)
	assert.Equal(t, "2026-01-03T00:00:00Z", result.Trace[2].At)
}

func TestRun_TestingHoursShiftScheduler(t *testing.T) {
	testutil.SilenceLogs(t)

	scenario := &Scenario{
		Name:         "offset",
		TestingHours: 48,
		Steps: []Step{
			startRecipe("dev-1", "basil"),
			{Device: "dev-1", AdvanceHours: 48, Check: true},
		},
		Assertions: []Assertion{
			{Type: AssertFiredCount, Command: notify.CommandCheckFluid, Count: intp(1)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_CustomCommands(t *testing.T) {
	testutil.SilenceLogs(t)

	scenario := &Scenario{
		Name: "custom",
		Commands: []notify.Command{
			{Name: notify.CommandCheckFluid, Message: "fluid", RepeatHours: 12},
			{Name: notify.CommandTakeMeasurements, Message: "measure", RepeatHours: 24, InitialRepeatHours: 48},
			{Name: notify.CommandHarvestPlant, Message: "harvest"},
		},
		Steps: []Step{
			startRecipe("dev-1", "basil"),
			{Device: "dev-1", AdvanceHours: 12, Check: true},
			{Device: "dev-1", AdvanceHours: 36, Check: true},
		},
		Assertions: []Assertion{
			{Type: AssertFiredCount, Command: notify.CommandCheckFluid, Count: intp(2)},
			{Type: AssertFiredCount, Command: notify.CommandTakeMeasurements, Count: intp(1)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, []string{notify.CommandTakeMeasurements, notify.CommandCheckFluid}, result.Trace[2].Fired)
}

func TestRun_InvalidCommandsRejected(t *testing.T) {
	scenario := &Scenario{
		Name:       "bad",
		Commands:   []notify.Command{{Name: "x", RepeatHours: -1}},
		Steps:      []Step{{Device: "d", Check: true}},
		Assertions: []Assertion{{Type: AssertRows, Count: intp(0)}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commands")
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	testutil.SilenceLogs(t)

	scenario := &Scenario{
		Name: "mismatch",
		Steps: []Step{
			{Device: "dev-1", Message: map[string]any{"var": "temp"}, Expect: "MISSING_FIELD"},
			{Device: "dev-1", Message: map[string]any{"messageType": "EnvVar", "var": "temp", "values": `{"values":[{"name":"t","type":"int","value":1}]}`}, Expect: "MISSING_FIELD"},
		},
		Assertions: []Assertion{{Type: AssertRows, Count: intp(1)}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `expected error "MISSING_FIELD", got "MISSING_TYPE"`)
	assert.Contains(t, result.Errors[1], `expected error "MISSING_FIELD", got ""`)
}

func TestRun_AssertionFailureReported(t *testing.T) {
	testutil.SilenceLogs(t)

	scenario := &Scenario{
		Name:       "fails",
		Steps:      []Step{startRecipe("dev-1", "basil")},
		Assertions: []Assertion{{Type: AssertSchedule, Device: "dev-1", Commands: []string{"check_fluid"}}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: schedule")
}

func TestRun_UploadWithoutFileTimesOut(t *testing.T) {
	testutil.SilenceLogs(t)

	old := StepTimeout
	StepTimeout = 50 * time.Millisecond
	t.Cleanup(func() { StepTimeout = old })

	scenario := &Scenario{
		Name: "missing_upload",
		Steps: []Step{{
			Device: "dev-1",
			Message: map[string]any{
				"messageType": "ImageUpload",
				"varName":     "leaf",
				"imageType":   "jpg",
				"fileName":    "never.jpg",
			},
			Expect: "TIMEOUT",
		}},
		Assertions: []Assertion{{Type: AssertQueueLen, Device: "dev-1", Property: "leaf", Count: intp(0)}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_Deterministic(t *testing.T) {
	testutil.SilenceLogs(t)

	scenario, err := LoadScenario("testdata/scenarios/recipe_lifecycle.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, first.Trace, second.Trace)
}
