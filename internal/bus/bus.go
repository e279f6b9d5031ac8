// Package bus is the publish/subscribe capability between devices, the
// dispatcher and the notification service.
//
// Delivery is at-least-once: a handler that returns an error gets the
// message again, up to the subscription's delivery limit. Handlers must
// therefore be idempotent or tolerate duplicates, exactly as they would on
// a hosted pub/sub service.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Topic names used by growline.
const (
	TopicTelemetry     = "telemetry"
	TopicRecipes       = "recipes"
	TopicNotifications = "notifications"
)

// Message is one delivery.
type Message struct {
	ID        string
	Topic     string
	Data      []byte
	Published time.Time

	// Attempt counts deliveries of this message to one subscription,
	// starting at 1.
	Attempt int
}

// Handler processes a delivery. Returning an error requests redelivery.
type Handler func(ctx context.Context, msg Message) error

// Publisher is the publish half of Bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) (string, error)
}

// Bus publishes to topics and fans messages out to named subscriptions.
type Bus interface {
	Publisher
	Subscribe(topic, name string, h Handler) error
}

// IDGenerator produces message ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 message ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
