package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/growline/internal/notify"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "test.yaml")

	content := `
name: test_scenario
description: "Test scenario for validation"
testing_hours: 6
commands:
  - name: check_fluid
    message: "Check your fluid level"
    repeat_hours: 12
steps:
  - device: dev-1
    message:
      messageType: EnvVar
      var: temp
      values: '{"values":[{"name":"temp","type":"float","value":20}]}'
  - device: dev-1
    advance_hours: 12
    check: true
assertions:
  - type: queue_len
    device: dev-1
    property: temp
    count: 1
`
	require.NoError(t, os.WriteFile(scenarioPath, []byte(content), 0644))

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, 6, scenario.TestingHours)
	assert.Equal(t, []notify.Command{{Name: "check_fluid", Message: "Check your fluid level", RepeatHours: 12}}, scenario.Commands)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, "EnvVar", scenario.Steps[0].Message["messageType"])
	assert.Equal(t, 12, scenario.Steps[1].AdvanceHours)
	assert.True(t, scenario.Steps[1].Check)
	require.Len(t, scenario.Assertions, 1)
	require.NotNil(t, scenario.Assertions[0].Count)
	assert.Equal(t, 1, *scenario.Assertions[0].Count)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
steps:
  - device: dev-1
    check: true
assertion:
  - type: rows
    count: 0
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
steps: [{device: d, check: true}]
assertions: [{type: rows, count: 0}]
`,
			wantErr: "name is required",
		},
		{
			name: "no steps",
			content: `
name: x
assertions: [{type: rows, count: 0}]
`,
			wantErr: "steps list is required",
		},
		{
			name: "no assertions",
			content: `
name: x
steps: [{device: d, check: true}]
`,
			wantErr: "assertions list is required",
		},
		{
			name: "bad start",
			content: `
name: x
start: yesterday
steps: [{device: d, check: true}]
assertions: [{type: rows, count: 0}]
`,
			wantErr: "start",
		},
		{
			name: "step with two actions",
			content: `
name: x
steps: [{device: d, check: true, message: {messageType: EnvVar}}]
assertions: [{type: rows, count: 0}]
`,
			wantErr: "steps[0]: exactly one of message, check or put",
		},
		{
			name: "step without action",
			content: `
name: x
steps: [{device: d, advance_hours: 3}]
assertions: [{type: rows, count: 0}]
`,
			wantErr: "steps[0]: exactly one of message, check or put",
		},
		{
			name: "step without device",
			content: `
name: x
steps: [{check: true}]
assertions: [{type: rows, count: 0}]
`,
			wantErr: "steps[0]: device is required",
		},
		{
			name: "put without name",
			content: `
name: x
steps: [{put: {data: abc}}]
assertions: [{type: rows, count: 0}]
`,
			wantErr: "steps[0].put: name is required",
		},
		{
			name: "negative advance",
			content: `
name: x
steps: [{device: d, check: true, advance_hours: -1}]
assertions: [{type: rows, count: 0}]
`,
			wantErr: "advance_hours must be non-negative",
		},
		{
			name: "unknown assertion",
			content: `
name: x
steps: [{device: d, check: true}]
assertions: [{type: final_state}]
`,
			wantErr: `unknown assertion type "final_state"`,
		},
		{
			name: "queue_len without property",
			content: `
name: x
steps: [{device: d, check: true}]
assertions: [{type: queue_len, device: d, count: 1}]
`,
			wantErr: "property is required for queue_len",
		},
		{
			name: "rows without count",
			content: `
name: x
steps: [{device: d, check: true}]
assertions: [{type: rows, prefix: Env}]
`,
			wantErr: "count is required for rows",
		},
		{
			name: "run without expectations",
			content: `
name: x
steps: [{device: d, check: true}]
assertions: [{type: run, device: d}]
`,
			wantErr: "expect or count is required for run",
		},
		{
			name: "notifications without device",
			content: `
name: x
steps: [{device: d, check: true}]
assertions: [{type: notifications, count: 1}]
`,
			wantErr: "device is required for notifications",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_ZeroCountIsExplicit(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: zero
steps: [{device: d, check: true}]
assertions:
  - type: fired_count
    command: check_fluid
    count: 0
`))
	require.NoError(t, err)
	require.NotNil(t, scenario.Assertions[0].Count)
	assert.Equal(t, 0, *scenario.Assertions[0].Count)
}
