package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/growline/internal/bus"
)

// Envelope is the transport payload: one device message and its sender.
type Envelope struct {
	DeviceID string  `json:"deviceId"`
	Message  Message `json:"message"`
}

// EncodeEnvelope renders the transport payload for msg.
func EncodeEnvelope(deviceID string, msg Message) ([]byte, error) {
	data, err := json.Marshal(Envelope{DeviceID: deviceID, Message: msg})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a transport payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.DeviceID == "" {
		return Envelope{}, errors.New("decode envelope: missing deviceId")
	}
	if env.Message == nil {
		return Envelope{}, errors.New("decode envelope: missing message")
	}
	return env, nil
}

// HandleMessage is a bus.Handler for bus.TopicTelemetry. Every delivery is
// acknowledged: malformed input is dropped and processing failures are
// logged, leaving transport redelivery as the only recovery path.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg bus.Message) error {
	env, err := DecodeEnvelope(msg.Data)
	if err != nil {
		slog.Error("dropping undecodable delivery", "message_id", msg.ID, "error", err)
		return nil
	}
	if err := d.Dispatch(ctx, env.DeviceID, env.Message); err != nil {
		slog.Debug("delivery processed with errors", "message_id", msg.ID, "device", env.DeviceID, "attempt", msg.Attempt, "error", err)
	}
	return nil
}

// Subscribe registers the dispatcher on b's telemetry topic.
func (d *Dispatcher) Subscribe(b bus.Bus, name string) error {
	if err := b.Subscribe(bus.TopicTelemetry, name, d.HandleMessage); err != nil {
		return fmt.Errorf("subscribe dispatcher: %w", err)
	}
	return nil
}
