package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/growline/internal/analytics"
	"github.com/roach88/growline/internal/blob"
	"github.com/roach88/growline/internal/chunk"
	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/dispatch"
	"github.com/roach88/growline/internal/notify"
	"github.com/roach88/growline/internal/queue"
	"github.com/roach88/growline/internal/store"
	"github.com/roach88/growline/internal/testutil"
)

// DefaultStart is the fake clock's initial time when a scenario sets none.
var DefaultStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// StepTimeout bounds a single step. An ImageUpload whose file is never
// put blocks on the fake clock until this expires.
var StepTimeout = 5 * time.Second

// Harness is the test execution engine.
// It wires the dispatcher to fresh in-memory collaborators, a fake clock
// and sequential notification ids.
type Harness struct {
	store      *store.Store
	clock      *clock.FakeClock
	blobs      *blob.Memory
	sink       *analytics.Memory
	queue      *queue.Store
	service    *notify.Service
	uploader   *dispatch.Uploader
	dispatcher *dispatch.Dispatcher
}

// New builds a harness for scenario. Close releases it.
func New(scenario *Scenario) (*Harness, error) {
	start := DefaultStart
	if scenario.Start != "" {
		t, err := clock.Parse(scenario.Start)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		start = t
	}
	clk := clock.Fake(start)

	st, err := store.Open(":memory:", store.WithClock(clk))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	var qopts []queue.Option
	if scenario.MaxLen > 0 {
		qopts = append(qopts, queue.WithMaxLen(scenario.MaxLen))
	}

	h := &Harness{
		store: st,
		clock: clk,
		blobs: blob.NewMemory(clk),
		sink:  &analytics.Memory{},
		queue: queue.New(st, qopts...),
	}

	notes := notify.NewNotifications(h.queue, clk, notify.WithIDGenerator(testutil.NewSequenceIDs("")))
	sched := notify.NewScheduler(h.queue, notes, clk)
	if len(scenario.Commands) > 0 {
		if err := sched.SetCommands(scenario.Commands); err != nil {
			st.Close()
			return nil, fmt.Errorf("commands: %w", err)
		}
	}
	sched.SetTestingHours(scenario.TestingHours)

	h.service = notify.NewService(sched, notify.NewRuns(h.queue, clk), notes, nil)
	h.uploader = dispatch.NewUploader(h.blobs, h.queue, h.sink, clk, dispatch.UploadConfig{})
	h.dispatcher = dispatch.New(dispatch.Collaborators{
		Queue:     h.queue,
		Chunks:    chunk.New(st, h.queue, h.blobs, h.sink, chunk.WithClock(clk)),
		Uploads:   h.uploader,
		Notify:    h.service,
		Analytics: h.sink,
	}, dispatch.WithClock(clk))
	return h, nil
}

// Close releases the in-memory database.
func (h *Harness) Close() error {
	return h.store.Close()
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
// 1. Build collaborators around a fake clock
// 2. Execute steps, checking each against its expected error
// 3. Evaluate assertions against the trace and final state
func Run(scenario *Scenario) (*Result, error) {
	h, err := New(scenario)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute steps[%d]: %w", i, err)
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h.AssertionContext(ctx)) {
		result.AddError(msg)
	}
	return result, nil
}

// AssertionContext exposes the harness state to assertions.
func (h *Harness) AssertionContext(ctx context.Context) *AssertionContext {
	return &AssertionContext{
		Ctx:     ctx,
		Queue:   h.queue,
		Service: h.service,
		Sink:    h.sink,
	}
}

// executeStep runs one step and records it. Returned errors abort the
// scenario; step failures are compared against Expect instead.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	if step.AdvanceHours > 0 {
		h.clock.Advance(time.Duration(step.AdvanceHours) * time.Hour)
	}

	ev := TraceEvent{At: clock.Format(h.clock.Now()), Device: step.Device}

	if step.Put != nil {
		ev.Step = StepPut
		ev.Device = ""
		bucket := step.Put.Bucket
		if bucket == "" {
			bucket = h.uploader.Config().UploadsBucket
		}
		if _, err := h.blobs.Save(ctx, bucket, step.Put.Name, []byte(step.Put.Data)); err != nil {
			return fmt.Errorf("put %s/%s: %w", bucket, step.Put.Name, err)
		}
		result.AddTrace(ev)
		return nil
	}

	before, err := h.service.Notifications.All(ctx, step.Device)
	if err != nil {
		return err
	}

	stepCtx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	var stepErr error
	if step.Check {
		ev.Step = StepCheck
		_, stepErr = h.service.Scheduler.Check(stepCtx, step.Device)
	} else {
		msg := dispatch.Message(step.Message)
		ev.Step = string(msg.Type())
		stepErr = h.dispatcher.Dispatch(stepCtx, step.Device, msg)
	}
	ev.Error = errorText(stepErr)

	after, err := h.service.Notifications.All(ctx, step.Device)
	if err != nil {
		return err
	}
	if added := len(after) - len(before); added > 0 {
		ev.Fired = h.commandsFor(after[:added])
	}

	if ev.Error != step.Expect {
		result.AddError(fmt.Sprintf("steps[%d] (%s %s): expected error %q, got %q",
			index, step.Device, ev.Step, step.Expect, ev.Error))
	}
	result.AddTrace(ev)
	return nil
}

// commandsFor maps notifications back to the commands that produced them.
// Messages matching no command are reported verbatim.
func (h *Harness) commandsFor(notes []notify.Notification) []string {
	byMessage := make(map[string]string)
	for _, c := range h.service.Scheduler.Commands() {
		byMessage[c.Message] = c.Name
	}
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		if name, ok := byMessage[n.Message]; ok {
			out = append(out, name)
		} else {
			out = append(out, n.Message)
		}
	}
	return out
}

// errorText reduces a step error to its dispatch code when it has one.
func errorText(err error) string {
	if err == nil {
		return ""
	}
	if code := dispatch.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "TIMEOUT"
	}
	return err.Error()
}
