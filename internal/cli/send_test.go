package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phReading = `{"messageType":"EnvVar","var":"ph","values":"{\"values\":[{\"name\":\"ph\",\"type\":\"float\",\"value\":6.1}]}"}`

func TestSend_StoresReading(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, "--config", cfg, "send", "dev-1", phReading)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ EnvVar dispatched for dev-1")

	out, err = execute(t, "--config", cfg, "--format", "json", "queue", "dev-1", "ph")
	require.NoError(t, err)
	result := decodeData[QueueResult](t, out)
	require.Len(t, result.Items, 1)
	item, ok := result.Items[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "6.1", item["value"])
	assert.Equal(t, "ph", item["name"])

	out, err = execute(t, "--config", cfg, "devices")
	require.NoError(t, err)
	assert.Equal(t, "dev-1\n", out)
}

func TestSend_RejectedMessage(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, "--config", cfg, "send", "dev-1", `{"messageType":"EnvVar","var":"ph"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]: MISSING_FIELD")
}

func TestSend_UnknownType(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, "--config", cfg, "--format", "json", "send", "dev-1", `{"messageType":"Telemetry"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `"message": "UNKNOWN_TYPE"`)
}

func TestSend_NotJSON(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := execute(t, "--config", cfg, "send", "dev-1", "not json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQueue_Empty(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, "--config", cfg, "queue", "dev-9", "ph")
	require.NoError(t, err)
	assert.Contains(t, out, "No ph items for dev-9")
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", "/nonexistent/growline.yaml", "queue", "dev-1", "ph")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "commands")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
