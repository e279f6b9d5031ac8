package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/roach88/growline/internal/bus"
	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/docstore"
	"github.com/roach88/growline/internal/queue"
)

// PropertyNotifications holds a device's notifications.
const PropertyNotifications = "notifications"

// TypeOK is a notification the user dismisses with an OK button.
const TypeOK = "OK"

// Notification is one user-facing reminder. Acknowledged is empty until
// the user dismisses it.
type Notification struct {
	ID           string `cbor:"ID" json:"ID"`
	Type         string `cbor:"type" json:"type"`
	Message      string `cbor:"message" json:"message"`
	Created      string `cbor:"created" json:"created"`
	Acknowledged string `cbor:"acknowledged" json:"acknowledged"`
}

// IDGenerator produces notification ids.
type IDGenerator interface {
	Generate() string
}

// DigitIDs generates random 6-digit ids.
type DigitIDs struct{}

// Generate returns a zero-padded random number in [000000, 999999].
func (DigitIDs) Generate() string {
	return fmt.Sprintf("%06d", rand.IntN(1_000_000))
}

// Notifications stores per-device notifications newest-first.
type Notifications struct {
	queue     *queue.Store
	clock     clock.Clock
	ids       IDGenerator
	publisher bus.Publisher
}

// NotificationsOption configures Notifications.
type NotificationsOption func(*Notifications)

// WithIDGenerator replaces DigitIDs.
func WithIDGenerator(g IDGenerator) NotificationsOption {
	return func(n *Notifications) { n.ids = g }
}

// WithPublisher publishes every new notification to bus.TopicNotifications.
func WithPublisher(p bus.Publisher) NotificationsOption {
	return func(n *Notifications) { n.publisher = p }
}

// NewNotifications returns a store over q.
func NewNotifications(q *queue.Store, c clock.Clock, opts ...NotificationsOption) *Notifications {
	n := &Notifications{queue: q, clock: c, ids: DigitIDs{}}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Published is the payload sent to bus.TopicNotifications.
type Published struct {
	DeviceID     string       `json:"device_ID"`
	Notification Notification `json:"notification"`
}

// Add records a new unacknowledged notification and returns its id.
func (n *Notifications) Add(ctx context.Context, deviceID, message, typ string) (string, error) {
	if typ == "" {
		typ = TypeOK
	}
	rec := Notification{
		ID:      n.ids.Generate(),
		Type:    typ,
		Message: message,
		Created: clock.Format(n.clock.Now()),
	}
	item, err := queue.Encode(rec)
	if err != nil {
		return "", err
	}
	if err := n.queue.PushFront(ctx, deviceID, PropertyNotifications, item); err != nil {
		return "", fmt.Errorf("add notification: %w", err)
	}

	if n.publisher != nil {
		data, err := json.Marshal(Published{DeviceID: deviceID, Notification: rec})
		if err == nil {
			_, err = n.publisher.Publish(ctx, bus.TopicNotifications, data)
		}
		if err != nil {
			slog.Warn("publish notification failed", "device", deviceID, "id", rec.ID, "error", err)
		}
	}
	return rec.ID, nil
}

// All returns every stored notification, newest first.
func (n *Notifications) All(ctx context.Context, deviceID string) ([]Notification, error) {
	items, err := n.queue.Get(ctx, deviceID, PropertyNotifications)
	if err != nil {
		return nil, err
	}
	return queue.Decode[Notification](items)
}

// Unacknowledged returns the notifications not yet acknowledged.
func (n *Notifications) Unacknowledged(ctx context.Context, deviceID string) ([]Notification, error) {
	all, err := n.All(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	var out []Notification
	for _, rec := range all {
		if rec.Acknowledged == "" {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Ack stamps the notification with the current time. Reports whether the
// id was found.
func (n *Notifications) Ack(ctx context.Context, deviceID, id string) (bool, error) {
	var found bool
	err := n.queue.Update(ctx, deviceID, PropertyNotifications, func(items []docstore.Item) ([]docstore.Item, error) {
		found = false
		recs, err := queue.Decode[Notification](items)
		if err != nil {
			return nil, err
		}
		out := docstore.CloneItems(items)
		for i, rec := range recs {
			if rec.ID != id {
				continue
			}
			rec.Acknowledged = clock.Format(n.clock.Now())
			if out[i], err = queue.Encode(rec); err != nil {
				return nil, err
			}
			found = true
			break
		}
		return out, nil
	})
	if err != nil {
		return false, fmt.Errorf("ack notification: %w", err)
	}
	return found, nil
}
