package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/growline/internal/analytics"
	"github.com/roach88/growline/internal/blob"
	"github.com/roach88/growline/internal/chunk"
	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/docstore"
	"github.com/roach88/growline/internal/notify"
	"github.com/roach88/growline/internal/queue"
	"github.com/roach88/growline/internal/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	clock      *clock.FakeClock
	docs       *docstore.Memory
	queue      *queue.Store
	blobs      *blob.Memory
	sink       *analytics.Memory
	uploader   *Uploader
	service    *notify.Service
	dispatcher *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	testutil.SilenceLogs(t)

	f := &fixture{
		clock: clock.Fake(epoch),
		docs:  docstore.NewMemory(),
		sink:  &analytics.Memory{},
	}
	f.queue = queue.New(f.docs)
	f.blobs = blob.NewMemory(f.clock)

	notes := notify.NewNotifications(f.queue, f.clock, notify.WithIDGenerator(testutil.NewSequenceIDs("")))
	f.service = notify.NewService(
		notify.NewScheduler(f.queue, notes, f.clock),
		notify.NewRuns(f.queue, f.clock),
		notes,
		nil,
	)
	f.uploader = NewUploader(f.blobs, f.queue, f.sink, f.clock, UploadConfig{})
	f.dispatcher = New(Collaborators{
		Queue:     f.queue,
		Chunks:    chunk.New(f.docs, f.queue, f.blobs, f.sink, chunk.WithClock(f.clock)),
		Uploads:   f.uploader,
		Notify:    f.service,
		Analytics: f.sink,
	}, WithClock(f.clock))
	return f
}

func (f *fixture) readings(t *testing.T, deviceID, varName string) []queue.Telemetry {
	t.Helper()
	items, err := f.queue.Get(context.Background(), deviceID, varName)
	require.NoError(t, err)
	out, err := queue.Decode[queue.Telemetry](items)
	require.NoError(t, err)
	return out
}

func envVar(varName, values string) Message {
	return Message{"messageType": "EnvVar", "var": varName, "values": values}
}
