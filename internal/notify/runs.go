package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/docstore"
	"github.com/roach88/growline/internal/queue"
)

// PropertyRuns holds a device's recipe runs.
const PropertyRuns = "runs"

// Run is one recipe run. End is empty while the run is open.
type Run struct {
	Start      string `cbor:"start" json:"start"`
	End        string `cbor:"end" json:"end"`
	RecipeName string `cbor:"recipe_name" json:"recipe_name"`
}

// Open reports whether the run has not ended.
func (r Run) Open() bool { return r.End == "" }

// Runs tracks recipe runs newest-first. Only the head may be open.
type Runs struct {
	queue *queue.Store
	clock clock.Clock
}

// NewRuns returns a tracker over q.
func NewRuns(q *queue.Store, c clock.Clock) *Runs {
	return &Runs{queue: q, clock: c}
}

// Start pushes a new open run. A run still open at the head is closed
// first so at most one run is ever open.
func (r *Runs) Start(ctx context.Context, deviceID, recipe string) error {
	now := clock.Format(r.clock.Now())
	item, err := queue.Encode(Run{Start: now, RecipeName: recipe})
	if err != nil {
		return err
	}

	err = r.queue.Update(ctx, deviceID, PropertyRuns, func(items []docstore.Item) ([]docstore.Item, error) {
		out := make([]docstore.Item, 0, len(items)+1)
		out = append(out, item)
		out = append(out, items...)
		if len(items) == 0 {
			return out, nil
		}

		heads, err := queue.Decode[Run](items[:1])
		if err != nil {
			return nil, err
		}
		if head := heads[0]; head.Open() {
			head.End = now
			closed, err := queue.Encode(head)
			if err != nil {
				return nil, err
			}
			out[1] = closed
		}
		return out, nil
	})
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// Stop ends the open run at the head in place. With no open run it logs
// and leaves the list untouched. Reports whether a run was stopped.
func (r *Runs) Stop(ctx context.Context, deviceID string) (bool, error) {
	var stopped bool
	err := r.queue.Update(ctx, deviceID, PropertyRuns, func(items []docstore.Item) ([]docstore.Item, error) {
		stopped = false
		if len(items) == 0 {
			return items, nil
		}
		heads, err := queue.Decode[Run](items[:1])
		if err != nil {
			return nil, err
		}
		head := heads[0]
		if !head.Open() {
			return items, nil
		}
		head.End = clock.Format(r.clock.Now())
		closed, err := queue.Encode(head)
		if err != nil {
			return nil, err
		}
		out := docstore.CloneItems(items)
		out[0] = closed
		stopped = true
		return out, nil
	})
	if err != nil {
		return false, fmt.Errorf("stop run: %w", err)
	}
	if !stopped {
		slog.Warn("stop requested with no open run", "device", deviceID)
	}
	return stopped, nil
}

// All returns every run, newest first.
func (r *Runs) All(ctx context.Context, deviceID string) ([]Run, error) {
	items, err := r.queue.Get(ctx, deviceID, PropertyRuns)
	if err != nil {
		return nil, err
	}
	return queue.Decode[Run](items)
}

// Latest returns the head run, if any.
func (r *Runs) Latest(ctx context.Context, deviceID string) (Run, bool, error) {
	items, err := r.queue.Get(ctx, deviceID, PropertyRuns)
	if err != nil {
		return Run{}, false, err
	}
	if len(items) == 0 {
		return Run{}, false, nil
	}
	runs, err := queue.Decode[Run](items[:1])
	if err != nil {
		return Run{}, false, err
	}
	return runs[0], true, nil
}
