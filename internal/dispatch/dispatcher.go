package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/growline/internal/analytics"
	"github.com/roach88/growline/internal/chunk"
	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/notify"
	"github.com/roach88/growline/internal/queue"
)

// Collaborators are the components a Dispatcher routes to. Queue is
// required; a nil Chunks, Uploads, Notify or Analytics disables that path
// with a logged warning.
type Collaborators struct {
	Queue     *queue.Store
	Chunks    *chunk.Engine
	Uploads   *Uploader
	Notify    *notify.Service
	Analytics analytics.Sink
}

// Dispatcher routes validated messages to their handlers.
type Dispatcher struct {
	c       Collaborators
	clock   clock.Clock
	decoder ValueDecoder
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock used to timestamp readings.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithDecoder replaces DefaultDecoder.
func WithDecoder(dec ValueDecoder) Option {
	return func(d *Dispatcher) { d.decoder = dec }
}

// New returns a Dispatcher over c.
func New(c Collaborators, opts ...Option) *Dispatcher {
	d := &Dispatcher{c: c, clock: clock.Real(), decoder: DefaultDecoder()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates msg and routes it. A malformed message is logged and
// returned as *Error without side effects. Otherwise the message is
// handled, the device's schedule is checked, and any handler or check
// failures are returned joined.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, msg Message) error {
	typ, err := Validate(deviceID, msg)
	if err != nil {
		slog.Error("invalid message", "device", deviceID, "error", err)
		return err
	}

	var handleErr error
	switch typ {
	case TypeEnvVar, TypeCommandReply:
		handleErr = d.saveReading(ctx, deviceID, typ, msg)
	case TypeImage:
		handleErr = d.saveFragment(ctx, deviceID, msg)
	case TypeImageUpload:
		handleErr = d.saveUpload(ctx, deviceID, msg)
	case TypeRecipeEvent:
		handleErr = d.applyRecipeEvent(ctx, deviceID, msg)
	}
	if IsInvalidMessage(handleErr) {
		slog.Error("invalid message", "device", deviceID, "type", typ, "error", handleErr)
		return handleErr
	}
	if handleErr != nil {
		slog.Error("message handling failed", "device", deviceID, "type", typ, "error", handleErr)
	}

	return errors.Join(handleErr, d.check(ctx, deviceID))
}

func (d *Dispatcher) check(ctx context.Context, deviceID string) error {
	if d.c.Notify == nil {
		return nil
	}
	if _, err := d.c.Notify.Scheduler.Check(ctx, deviceID); err != nil {
		slog.Error("schedule check failed", "device", deviceID, "error", err)
		return err
	}
	return nil
}

func (d *Dispatcher) saveReading(ctx context.Context, deviceID string, typ MessageType, msg Message) error {
	varName := msg.Text(KeyVar)
	values := msg.Text(KeyValues)

	v, err := d.decoder.Decode(values)
	if err != nil {
		return &Error{
			Code:     ErrCodeInvalidValues,
			Message:  err.Error(),
			DeviceID: deviceID,
			Field:    KeyValues,
		}
	}

	now := d.clock.Now()
	item, err := queue.Encode(queue.Telemetry{Timestamp: clock.Format(now), Name: v.Name, Value: v.Value})
	if err != nil {
		return err
	}
	pushErr := d.c.Queue.PushFront(ctx, deviceID, varName, item)
	if pushErr != nil {
		pushErr = fmt.Errorf("save %s: %w", varName, pushErr)
	}

	kind := analytics.KindEnv
	if typ == TypeCommandReply {
		kind = analytics.KindCmd
	}
	analytics.Emit(ctx, d.c.Analytics, analytics.NewRow(kind, varName, deviceID, values, now))

	slog.Debug("reading saved", "device", deviceID, "var", varName, "name", v.Name)
	return pushErr
}

func (d *Dispatcher) saveFragment(ctx context.Context, deviceID string, msg Message) error {
	p, err := chunk.ParsePart(msg)
	if err != nil {
		return &Error{
			Code:     ErrCodeInvalidFragment,
			Message:  err.Error(),
			DeviceID: deviceID,
		}
	}
	if d.c.Chunks == nil {
		slog.Warn("chunk engine unavailable, dropping fragment", "device", deviceID)
		return nil
	}
	_, err = d.c.Chunks.Save(ctx, deviceID, p)
	return err
}

func (d *Dispatcher) saveUpload(ctx context.Context, deviceID string, msg Message) error {
	if d.c.Uploads == nil {
		slog.Warn("uploader unavailable, dropping upload", "device", deviceID)
		return nil
	}
	_, err := d.c.Uploads.Save(ctx, deviceID, msg.Text(KeyVarName), msg.Text(KeyFileName))
	if errors.Is(err, ErrUploadExpired) {
		return nil
	}
	return err
}

func (d *Dispatcher) applyRecipeEvent(ctx context.Context, deviceID string, msg Message) error {
	action := msg.Text(KeyAction)
	typ, ok := notify.EventTypeForAction(action)
	if !ok {
		return &Error{
			Code:     ErrCodeUnknownAction,
			Message:  fmt.Sprintf("unknown recipe action %q", action),
			DeviceID: deviceID,
			Field:    KeyAction,
		}
	}
	if d.c.Notify == nil {
		slog.Warn("notification service unavailable, dropping recipe event", "device", deviceID)
		return nil
	}
	return d.c.Notify.Apply(ctx, notify.Event{DeviceID: deviceID, Type: typ, Message: msg.Text(KeyName)})
}
