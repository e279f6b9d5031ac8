package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/growline/internal/clock"
)

const (
	// DefaultWorkers is the number of concurrent handlers per subscription.
	DefaultWorkers = 4

	// DefaultMaxDeliveries bounds redelivery of a failing message.
	DefaultMaxDeliveries = 5
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus: closed")

// Memory is an in-process Bus. Run starts the subscription workers;
// Close stops intake, and Run returns once every queue has drained.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu            sync.Mutex
	subs          map[string][]*subscription
	closed        bool
	started       bool
	workers       int
	maxDeliveries int
	ids           IDGenerator
	clock         clock.Clock
}

type subscription struct {
	topic   string
	name    string
	handler Handler
	queue   *messageQueue
}

// Option configures a Memory bus.
type Option func(*Memory)

// WithWorkers sets handlers per subscription.
func WithWorkers(n int) Option {
	return func(b *Memory) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithMaxDeliveries sets the redelivery limit.
func WithMaxDeliveries(n int) Option {
	return func(b *Memory) {
		if n > 0 {
			b.maxDeliveries = n
		}
	}
}

// WithIDGenerator replaces the UUIDv7 message id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(b *Memory) { b.ids = g }
}

// WithClock sets the clock stamping Published.
func WithClock(c clock.Clock) Option {
	return func(b *Memory) { b.clock = c }
}

// NewMemory returns an idle bus.
func NewMemory(opts ...Option) *Memory {
	b := &Memory{
		subs:          make(map[string][]*subscription),
		workers:       DefaultWorkers,
		maxDeliveries: DefaultMaxDeliveries,
		ids:           UUIDv7Generator{},
		clock:         clock.Real(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h on topic under name. Must be called before Run.
func (b *Memory) Subscribe(topic, name string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("subscribe %s/%s: bus already running", topic, name)
	}
	for _, s := range b.subs[topic] {
		if s.name == name {
			return fmt.Errorf("subscribe %s/%s: duplicate subscription", topic, name)
		}
	}
	b.subs[topic] = append(b.subs[topic], &subscription{
		topic:   topic,
		name:    name,
		handler: h,
		queue:   newMessageQueue(),
	})
	return nil
}

// Publish fans data out to every subscription of topic and returns the
// message id. Topics without subscribers drop the message.
func (b *Memory) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}

	msg := Message{
		ID:        b.ids.Generate(),
		Topic:     topic,
		Data:      append([]byte(nil), data...),
		Published: b.clock.Now(),
		Attempt:   1,
	}
	for _, s := range b.subs[topic] {
		s.queue.Enqueue(msg)
	}
	return msg.ID, nil
}

// Close stops accepting publishes. Queued messages are still delivered.
func (b *Memory) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, list := range b.subs {
		for _, s := range list {
			s.queue.Close()
		}
	}
}

// Run delivers messages until ctx is done or Close has been called and
// every queue has drained.
func (b *Memory) Run(ctx context.Context) error {
	b.mu.Lock()
	b.started = true
	var subs []*subscription
	for _, list := range b.subs {
		subs = append(subs, list...)
	}
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range subs {
		for w := 0; w < b.workers; w++ {
			g.Go(func() error { return b.work(gctx, s) })
		}
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (b *Memory) work(ctx context.Context, s *subscription) error {
	for {
		if msg, ok := s.queue.TryDequeue(); ok {
			b.deliver(ctx, s, msg)
			continue
		}
		if s.queue.Closed() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.queue.Wait():
		}
	}
}

func (b *Memory) deliver(ctx context.Context, s *subscription, msg Message) {
	err := s.handler(ctx, msg)
	if err == nil {
		return
	}
	if msg.Attempt >= b.maxDeliveries {
		slog.Error("message dead-lettered",
			"topic", s.topic,
			"subscription", s.name,
			"message_id", msg.ID,
			"attempts", msg.Attempt,
			"error", err,
		)
		return
	}
	slog.Warn("handler failed, redelivering",
		"topic", s.topic,
		"subscription", s.name,
		"message_id", msg.ID,
		"attempt", msg.Attempt,
		"error", err,
	)
	msg.Attempt++
	s.queue.requeue(msg)
}

var _ Bus = (*Memory)(nil)
