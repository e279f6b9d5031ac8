package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuns_StartStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.runs.Start(ctx, "dev", "basil"))
	latest, ok, err := f.runs.Latest(ctx, "dev")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Run{Start: at(0), RecipeName: "basil"}, latest)
	assert.True(t, latest.Open())

	f.clock.Advance(5 * time.Hour)
	stopped, err := f.runs.Stop(ctx, "dev")
	require.NoError(t, err)
	assert.True(t, stopped)

	runs, err := f.runs.All(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, runs, 1, "stop updates the head in place")
	assert.Equal(t, Run{Start: at(0), End: at(5), RecipeName: "basil"}, runs[0])
}

func TestRuns_StopWithoutOpenRunIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	stopped, err := f.runs.Stop(ctx, "dev")
	require.NoError(t, err)
	assert.False(t, stopped)

	runs, err := f.runs.All(ctx, "dev")
	require.NoError(t, err)
	assert.Empty(t, runs)

	require.NoError(t, f.runs.Start(ctx, "dev", "kale"))
	_, err = f.runs.Stop(ctx, "dev")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	stopped, err = f.runs.Stop(ctx, "dev")
	require.NoError(t, err)
	assert.False(t, stopped)

	runs, err = f.runs.All(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, at(0), runs[0].End, "closed run keeps its original end")
}

func TestRuns_StartClosesPreviousOpenRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.runs.Start(ctx, "dev", "basil"))
	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.runs.Start(ctx, "dev", "mint"))

	runs, err := f.runs.All(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, Run{Start: at(2), RecipeName: "mint"}, runs[0])
	assert.Equal(t, Run{Start: at(0), End: at(2), RecipeName: "basil"}, runs[1])
}

func TestRuns_LatestEmpty(t *testing.T) {
	f := newFixture(t, nil)
	_, ok, err := f.runs.Latest(context.Background(), "dev")
	require.NoError(t, err)
	assert.False(t, ok)
}
