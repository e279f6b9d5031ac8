package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/growline/internal/bus"
)

// EventType is a recipe lifecycle transition.
type EventType string

const (
	EventRecipeStart EventType = "recipe_start"
	EventRecipeStop  EventType = "recipe_stop"
	EventRecipeEnd   EventType = "recipe_end"
)

// ErrInvalidEvent is returned for events that fail validation.
var ErrInvalidEvent = errors.New("notify: invalid event")

// Event is a recipe lifecycle event for one device. Message carries the
// recipe name.
type Event struct {
	DeviceID string    `json:"device_ID"`
	Type     EventType `json:"message_type"`
	Message  string    `json:"message"`
}

// EventTypeForAction maps a device action (start, stop, end) to its
// event type.
func EventTypeForAction(action string) (EventType, bool) {
	switch action {
	case "start":
		return EventRecipeStart, true
	case "stop":
		return EventRecipeStop, true
	case "end":
		return EventRecipeEnd, true
	}
	return "", false
}

// Validate checks the event is complete and of a known type.
func (e Event) Validate() error {
	if e.DeviceID == "" {
		return fmt.Errorf("%w: missing device_ID", ErrInvalidEvent)
	}
	switch e.Type {
	case EventRecipeStart, EventRecipeStop, EventRecipeEnd:
	default:
		return fmt.Errorf("%w: unknown message_type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// Service applies recipe events to the scheduler and run tracker.
type Service struct {
	Scheduler     *Scheduler
	Runs          *Runs
	Notifications *Notifications
	publisher     bus.Publisher
}

// NewService wires the notification components. pub may be nil when
// events are never republished.
func NewService(s *Scheduler, r *Runs, n *Notifications, pub bus.Publisher) *Service {
	return &Service{Scheduler: s, Runs: r, Notifications: n, publisher: pub}
}

// Apply performs the schedule and run changes for ev. Every step runs even
// if an earlier one fails; the failures are joined.
func (s *Service) Apply(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	dev := ev.DeviceID

	var errs []error
	step := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch ev.Type {
	case EventRecipeStart:
		step(s.Scheduler.AddInitial(ctx, dev, CommandCheckFluid))
		step(s.Scheduler.AddInitial(ctx, dev, CommandTakeMeasurements))
		step(s.Runs.Start(ctx, dev, ev.Message))
	case EventRecipeStop:
		step(s.Scheduler.RemoveAll(ctx, dev))
		_, err := s.Runs.Stop(ctx, dev)
		step(err)
	case EventRecipeEnd:
		step(s.Scheduler.RemoveAll(ctx, dev))
		step(s.Scheduler.Add(ctx, dev, CommandHarvestPlant, 0))
		_, err := s.Runs.Stop(ctx, dev)
		step(err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("apply %s for %s: %w", ev.Type, dev, err)
	}
	slog.Info("recipe event applied", "device", dev, "type", ev.Type, "recipe", ev.Message)
	return nil
}

// Handle applies ev and then runs the due-command check for its device.
func (s *Service) Handle(ctx context.Context, ev Event) error {
	applyErr := s.Apply(ctx, ev)
	if errors.Is(applyErr, ErrInvalidEvent) {
		return applyErr
	}
	_, checkErr := s.Scheduler.Check(ctx, ev.DeviceID)
	return errors.Join(applyErr, checkErr)
}

// Publish sends ev to bus.TopicRecipes.
func (s *Service) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if s.publisher == nil {
		return errors.New("publish recipe event: no publisher configured")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("publish recipe event: %w", err)
	}
	if _, err := s.publisher.Publish(ctx, bus.TopicRecipes, data); err != nil {
		return fmt.Errorf("publish recipe event: %w", err)
	}
	return nil
}

// HandleMessage is a bus.Handler for bus.TopicRecipes. Bad payloads and
// failures are logged and acknowledged.
func (s *Service) HandleMessage(ctx context.Context, msg bus.Message) error {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		slog.Error("undecodable recipe event", "message_id", msg.ID, "error", err)
		return nil
	}
	if err := s.Handle(ctx, ev); err != nil {
		slog.Error("recipe event failed", "message_id", msg.ID, "device", ev.DeviceID, "error", err)
	}
	return nil
}
