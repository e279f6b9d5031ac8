package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/growline/internal/testutil"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace against the golden file of the same name.
func TestScenarios(t *testing.T) {
	testutil.SilenceLogs(t)

	files, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "scenario name must match its file")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestMarshalSnapshot(t *testing.T) {
	data, err := MarshalSnapshot("empty", nil)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"scenario_name\": \"empty\",\n  \"trace\": []\n}\n", string(data))

	data, err = MarshalSnapshot("one", []TraceEvent{{Seq: 1, At: "2026-01-01T00:00:00Z", Step: StepPut}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"step": "put"`)
	assert.NotContains(t, string(data), `"device"`)
	assert.NotContains(t, string(data), `"fired"`)
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt", "golden/a.yaml", "nested/c.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("name: x"), 0644))
	}

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, files)

	files, err = FindScenarios(dir, "b*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, files)

	_, err = FindScenarios(dir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")

	_, err = FindScenarios(filepath.Join(dir, "missing"), "")
	var dirErr *ScenarioDirError
	require.ErrorAs(t, err, &dirErr)
}

func TestGoldenPath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "recipe_lifecycle.golden"),
		GoldenPath(filepath.Join("scenarios", "recipe_lifecycle.yaml")))
}
