package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/growline/internal/blob"
	"github.com/roach88/growline/internal/chunk"
)

// pollOnly hides blob.Watcher so the uploader has to poll.
type pollOnly struct {
	blob.Store
}

type uploadOutcome struct {
	res UploadResult
	err error
}

func startSave(u *Uploader, deviceID, varName, fileName string) <-chan uploadOutcome {
	done := make(chan uploadOutcome, 1)
	go func() {
		res, err := u.Save(context.Background(), deviceID, varName, fileName)
		done <- uploadOutcome{res, err}
	}()
	return done
}

func TestUploader_MovesPresentFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.blobs.Save(ctx, DefaultUploadsBucket, "cam.png", []byte("png"))
	require.NoError(t, err)

	res, err := f.uploader.Save(ctx, "dev", "cam", "cam.png")
	require.NoError(t, err)
	assert.Equal(t, UploadResult{URL: "mem://images/cam.png", Polls: 1}, res)

	assert.Empty(t, f.blobs.Names(DefaultUploadsBucket))
	assert.Equal(t, []string{"cam.png"}, f.blobs.Names(chunk.DefaultImagesBucket))

	rows := f.sink.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Env~cam~2026-01-01T00:00:00Z~dev", rows[0].ID)
	assert.Equal(t, chunk.URLValues("mem://images/cam.png"), rows[0].Values)
}

func TestUploader_AlreadyHandledIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.blobs.Save(ctx, chunk.DefaultImagesBucket, "cam.png", []byte("png"))
	require.NoError(t, err)

	res, err := f.uploader.Save(ctx, "dev", "cam", "cam.png")
	require.NoError(t, err)
	assert.True(t, res.AlreadyHandled)
	assert.Zero(t, res.Polls)
	assert.Empty(t, f.readings(t, "dev", "cam"))
	assert.Empty(t, f.sink.Rows())
}

func TestUploader_WatchWakesWaitEarly(t *testing.T) {
	f := newFixture(t)
	done := startSave(f.uploader, "dev", "cam", "late.png")

	f.clock.WaitForTimers(1)
	_, err := f.blobs.Save(context.Background(), DefaultUploadsBucket, "late.png", []byte("png"))
	require.NoError(t, err)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, "mem://images/late.png", out.res.URL)
		assert.Equal(t, 2, out.res.Polls)
	case <-time.After(5 * time.Second):
		t.Fatal("upload not picked up from watch")
	}
	assert.Equal(t, epoch, f.clock.Now(), "no clock advance needed")
}

func TestUploader_PollsUntilArrival(t *testing.T) {
	f := newFixture(t)
	u := NewUploader(pollOnly{f.blobs}, f.queue, f.sink, f.clock, UploadConfig{})
	done := startSave(u, "dev", "cam", "slow.png")

	f.clock.WaitForTimers(1)
	f.clock.Advance(DefaultPollInterval)
	f.clock.WaitForTimers(1)
	_, err := f.blobs.Save(context.Background(), DefaultUploadsBucket, "slow.png", []byte("png"))
	require.NoError(t, err)
	f.clock.Advance(DefaultPollInterval)

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, 3, out.res.Polls)
	assert.Equal(t, "mem://images/slow.png", out.res.URL)

	got := f.readings(t, "dev", "cam")
	require.Len(t, got, 1)
	assert.Equal(t, "2026-01-01T00:00:20Z", got[0].Timestamp)
}

func TestUploader_ExpiresAfterBudget(t *testing.T) {
	f := newFixture(t)
	cfg := UploadConfig{Interval: 10 * time.Second, Budget: 30 * time.Second}
	u := NewUploader(pollOnly{f.blobs}, f.queue, f.sink, f.clock, cfg)
	done := startSave(u, "dev", "cam", "never.png")

	// Checks at 0s, 10s, 20s and 30s; the wait ending at 40s is past the budget.
	for i := 0; i < 4; i++ {
		f.clock.WaitForTimers(1)
		f.clock.Advance(cfg.Interval)
	}

	out := <-done
	require.ErrorIs(t, out.err, ErrUploadExpired)
	assert.Equal(t, 4, out.res.Polls)
	assert.Empty(t, out.res.URL)
	assert.Empty(t, f.readings(t, "dev", "cam"))
}

func TestUploader_CancelledContext(t *testing.T) {
	f := newFixture(t)
	u := NewUploader(pollOnly{f.blobs}, f.queue, f.sink, f.clock, UploadConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := u.Save(ctx, "dev", "cam", "never.png")
		done <- err
	}()

	f.clock.WaitForTimers(1)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestUploader_DuplicateDeliveriesMoveOnce(t *testing.T) {
	f := newFixture(t)
	u := NewUploader(pollOnly{f.blobs}, f.queue, f.sink, f.clock, UploadConfig{})

	var wg sync.WaitGroup
	results := make([]uploadOutcome, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := u.Save(context.Background(), "dev", "cam", "dup.png")
			results[i] = uploadOutcome{res, err}
		}(i)
	}

	f.clock.WaitForTimers(1)
	_, err := f.blobs.Save(context.Background(), DefaultUploadsBucket, "dup.png", []byte("png"))
	require.NoError(t, err)
	f.clock.Advance(DefaultPollInterval)
	wg.Wait()

	for _, r := range results {
		require.NoError(t, r.err)
	}
	assert.Len(t, f.readings(t, "dev", "cam"), 1, "one URL recorded")
	assert.Equal(t, []string{"dup.png"}, f.blobs.Names(chunk.DefaultImagesBucket))
}

func TestUploader_SameFileNameFromTwoDevicesPollsSeparately(t *testing.T) {
	f := newFixture(t)
	u := NewUploader(pollOnly{f.blobs}, f.queue, f.sink, f.clock, UploadConfig{})

	first := startSave(u, "dev-a", "cam", "shared.png")
	second := startSave(u, "dev-b", "cam", "shared.png")

	require.Eventually(t, func() bool { return f.clock.PendingCount() == 2 },
		5*time.Second, time.Millisecond, "each device waits on its own poll")
	_, err := f.blobs.Save(context.Background(), DefaultUploadsBucket, "shared.png", []byte("png"))
	require.NoError(t, err)
	f.clock.Advance(DefaultPollInterval)

	outs := []uploadOutcome{<-first, <-second}
	var moved, handled int
	for _, out := range outs {
		require.NoError(t, out.err)
		if out.res.URL != "" {
			moved++
		}
		if out.res.AlreadyHandled {
			handled++
		}
	}
	assert.Equal(t, 1, moved)
	assert.Equal(t, 1, handled, "the other device sees the file already moved")

	recorded := len(f.readings(t, "dev-a", "cam")) + len(f.readings(t, "dev-b", "cam"))
	assert.Equal(t, 1, recorded)
}

func TestUploader_SweepsStaleUploads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.blobs.Save(ctx, DefaultUploadsBucket, "abandoned.png", []byte("old"))
	require.NoError(t, err)

	f.clock.Advance(DefaultSweepAge + time.Minute)
	_, err = f.blobs.Save(ctx, DefaultUploadsBucket, "recent.png", []byte("new"))
	require.NoError(t, err)
	_, err = f.blobs.Save(ctx, DefaultUploadsBucket, "cam.png", []byte("png"))
	require.NoError(t, err)

	_, err = f.uploader.Save(ctx, "dev", "cam", "cam.png")
	require.NoError(t, err)
	assert.Equal(t, []string{"recent.png"}, f.blobs.Names(DefaultUploadsBucket))
}

func TestUploadConfig_Defaults(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, UploadConfig{
		UploadsBucket: "uploads",
		ImagesBucket:  "images",
		Interval:      10 * time.Second,
		Budget:        5 * time.Minute,
		SweepAge:      2 * time.Hour,
	}, f.uploader.Config())
}
