package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/docstore"
	"github.com/roach88/growline/internal/queue"
)

// PropertySchedule holds a device's schedule entries.
const PropertySchedule = "schedule"

// Entry is one scheduled command for a device.
type Entry struct {
	Command string `cbor:"command" json:"command"`
	Message string `cbor:"message" json:"message"`
	RunAt   string `cbor:"run_at" json:"run_at"`
	Repeat  int    `cbor:"repeat" json:"repeat"`
	Count   int    `cbor:"count" json:"count"`
}

// Scheduler keeps per-device command schedules and fires due entries.
//
// Thread-safety: the command set and testing offset are guarded by a
// mutex; schedule state lives in the queue store and is updated
// transactionally.
type Scheduler struct {
	queue         *queue.Store
	notifications *Notifications
	clock         clock.Clock

	mu       sync.RWMutex
	commands map[string]Command
	offset   time.Duration
}

// NewScheduler returns a Scheduler with DefaultCommands.
func NewScheduler(q *queue.Store, n *Notifications, c clock.Clock) *Scheduler {
	set, _ := validateCommands(DefaultCommands())
	return &Scheduler{
		queue:         q,
		notifications: n,
		clock:         c,
		commands:      set,
	}
}

// SetTestingHours shifts the scheduler's notion of now by h hours.
func (s *Scheduler) SetTestingHours(h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = time.Duration(h) * time.Hour
}

// TestingHours returns the current offset in hours.
func (s *Scheduler) TestingHours() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.offset / time.Hour)
}

// Now returns the clock time plus the testing offset.
func (s *Scheduler) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clock.Offset{Base: s.clock, Shift: s.offset}.Now()
}

// Commands returns the active command set ordered by name.
func (s *Scheduler) Commands() []Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCommands(s.commands)
}

// SetCommands replaces the active command set.
func (s *Scheduler) SetCommands(cmds []Command) error {
	set, err := validateCommands(cmds)
	if err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = set
	return nil
}

// Command looks up one command.
func (s *Scheduler) Command(name string) (Command, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.commands[name]
	return c, ok
}

// Add schedules command for the device, replacing an existing entry for
// the same command in place. A negative repeatHours uses the command's
// default. run_at is now + repeatHours, so a repeat of 0 is due at once.
func (s *Scheduler) Add(ctx context.Context, deviceID, command string, repeatHours int) error {
	cmd, ok := s.Command(command)
	if !ok {
		return fmt.Errorf("add %s: %w", command, ErrUnknownCommand)
	}
	if repeatHours < 0 {
		repeatHours = cmd.RepeatHours
	}

	entry := Entry{
		Command: command,
		Message: cmd.Message,
		RunAt:   clock.Format(s.Now().Add(time.Duration(repeatHours) * time.Hour)),
		Repeat:  repeatHours,
	}
	item, err := queue.Encode(entry)
	if err != nil {
		return err
	}

	err = s.queue.Update(ctx, deviceID, PropertySchedule, func(items []docstore.Item) ([]docstore.Item, error) {
		entries, err := queue.Decode[Entry](items)
		if err != nil {
			return nil, err
		}
		out := docstore.CloneItems(items)
		for i, e := range entries {
			if e.Command == command {
				out[i] = item
				return out, nil
			}
		}
		return append(out, item), nil
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", command, err)
	}
	slog.Debug("scheduled command", "device", deviceID, "command", command, "run_at", entry.RunAt, "repeat", repeatHours)
	return nil
}

// AddInitial schedules command using its initial interval when it has one
// and its default interval otherwise.
func (s *Scheduler) AddInitial(ctx context.Context, deviceID, command string) error {
	cmd, ok := s.Command(command)
	if !ok {
		return fmt.Errorf("add %s: %w", command, ErrUnknownCommand)
	}
	hours := cmd.RepeatHours
	if cmd.InitialRepeatHours > 0 {
		hours = cmd.InitialRepeatHours
	}
	return s.Add(ctx, deviceID, command, hours)
}

// Remove deletes the entry for command, if any.
func (s *Scheduler) Remove(ctx context.Context, deviceID, command string) error {
	err := s.queue.Update(ctx, deviceID, PropertySchedule, func(items []docstore.Item) ([]docstore.Item, error) {
		entries, err := queue.Decode[Entry](items)
		if err != nil {
			return nil, err
		}
		out := make([]docstore.Item, 0, len(items))
		for i, e := range entries {
			if e.Command != command {
				out = append(out, items[i])
			}
		}
		return out, nil
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", command, err)
	}
	return nil
}

// RemoveAll clears the device's schedule.
func (s *Scheduler) RemoveAll(ctx context.Context, deviceID string) error {
	if err := s.queue.Replace(ctx, deviceID, PropertySchedule, nil); err != nil {
		return fmt.Errorf("remove all: %w", err)
	}
	return nil
}

// Entries returns the device's schedule.
func (s *Scheduler) Entries(ctx context.Context, deviceID string) ([]Entry, error) {
	items, err := s.queue.Get(ctx, deviceID, PropertySchedule)
	if err != nil {
		return nil, err
	}
	return queue.Decode[Entry](items)
}

// Entry returns the entry for one command.
func (s *Scheduler) Entry(ctx context.Context, deviceID, command string) (Entry, bool, error) {
	entries, err := s.Entries(ctx, deviceID)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Command == command {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Check fires every entry whose run_at is at or before now (clock plus
// testing offset). Each firing adds a notification; one-shot entries
// (repeat 0) are removed, the rest are rescheduled at now + repeat with
// their count incremented. Returns the entries as they were when fired.
//
// The schedule is committed before notifications are written, so a
// redelivered message cannot fire the same entry twice.
func (s *Scheduler) Check(ctx context.Context, deviceID string) ([]Entry, error) {
	now := s.Now()

	entries, err := s.Entries(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("check: %w", err)
	}
	if !anyDue(entries, now) {
		return nil, nil
	}

	var fired []Entry
	err = s.queue.Update(ctx, deviceID, PropertySchedule, func(items []docstore.Item) ([]docstore.Item, error) {
		fired = fired[:0]
		current, err := queue.Decode[Entry](items)
		if err != nil {
			return nil, err
		}

		out := make([]docstore.Item, 0, len(items))
		for i, e := range current {
			if !isDue(e, now) {
				out = append(out, items[i])
				continue
			}
			fired = append(fired, e)
			if e.Repeat == 0 {
				continue
			}
			next, err := queue.Encode(s.advance(e, now))
			if err != nil {
				return nil, err
			}
			out = append(out, next)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("check: %w", err)
	}

	for _, e := range fired {
		id, err := s.notifications.Add(ctx, deviceID, e.Message, TypeOK)
		if err != nil {
			slog.Error("notification for fired command lost", "device", deviceID, "command", e.Command, "error", err)
			continue
		}
		slog.Info("command fired", "device", deviceID, "command", e.Command, "notification", id, "count", e.Count+1)
	}
	return fired, nil
}

// advance reschedules a fired repeating entry.
func (s *Scheduler) advance(e Entry, now time.Time) Entry {
	if cmd, ok := s.Command(e.Command); ok &&
		e.Count == 0 && cmd.InitialRepeatHours > 0 && cmd.RepeatHours > 0 &&
		e.Repeat == cmd.InitialRepeatHours {
		e.Repeat = cmd.RepeatHours
	}
	e.Count++
	e.RunAt = clock.Format(now.Add(time.Duration(e.Repeat) * time.Hour))
	return e
}

func anyDue(entries []Entry, now time.Time) bool {
	for _, e := range entries {
		if isDue(e, now) {
			return true
		}
	}
	return false
}

// isDue treats an unparseable run_at as not due.
func isDue(e Entry, now time.Time) bool {
	at, err := clock.Parse(e.RunAt)
	if err != nil {
		slog.Warn("schedule entry has bad run_at", "command", e.Command, "run_at", e.RunAt)
		return false
	}
	return !at.After(now)
}
