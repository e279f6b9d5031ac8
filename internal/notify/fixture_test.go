package notify

import (
	"testing"
	"time"

	"github.com/roach88/growline/internal/bus"
	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/docstore"
	"github.com/roach88/growline/internal/queue"
	"github.com/roach88/growline/internal/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	clock         *clock.FakeClock
	store         *docstore.Memory
	queue         *queue.Store
	notifications *Notifications
	scheduler     *Scheduler
	runs          *Runs
	service       *Service
}

func newFixture(t *testing.T, pub bus.Publisher) *fixture {
	t.Helper()
	testutil.SilenceLogs(t)

	f := &fixture{clock: clock.Fake(epoch), store: docstore.NewMemory()}
	f.queue = queue.New(f.store)
	opts := []NotificationsOption{WithIDGenerator(testutil.NewSequenceIDs(""))}
	if pub != nil {
		opts = append(opts, WithPublisher(pub))
	}
	f.notifications = NewNotifications(f.queue, f.clock, opts...)
	f.scheduler = NewScheduler(f.queue, f.notifications, f.clock)
	f.runs = NewRuns(f.queue, f.clock)
	f.service = NewService(f.scheduler, f.runs, f.notifications, pub)
	return f
}

func at(h int) string {
	return clock.Format(epoch.Add(time.Duration(h) * time.Hour))
}
