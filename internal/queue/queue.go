// Package queue implements the bounded, newest-first property lists kept
// per device.
//
// Every mutation is a read-modify-write inside an optimistic transaction
// on the device record. Contention is retried immediately, with no sleep,
// up to MaxAttempts times. Lists never exceed MaxLen elements: new items
// go in at index 0 and overflow is trimmed from the tail.
//
// A list holding a single empty map is a "nothing yet" placeholder left
// by older writers; it is treated as empty and overwritten.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/growline/internal/codec"
	"github.com/roach88/growline/internal/docstore"
)

const (
	// DefaultMaxLen caps every property list.
	DefaultMaxLen = 100

	// DefaultMaxAttempts bounds the optimistic retry loop.
	DefaultMaxAttempts = 15
)

// ErrRetriesExhausted is returned when every attempt lost to contention.
// It wraps docstore.ErrContention.
var ErrRetriesExhausted = errors.New("queue: retries exhausted")

// Store is the Bounded Queue Store.
//
// Thread-safety: Store holds no mutable state of its own; concurrency is
// resolved by the underlying record transactions.
type Store struct {
	records     docstore.Records
	maxLen      int
	maxAttempts int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxLen overrides DefaultMaxLen.
func WithMaxLen(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New returns a Store over records.
func New(records docstore.Records, opts ...Option) *Store {
	s := &Store{
		records:     records,
		maxLen:      DefaultMaxLen,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxLen returns the configured list cap.
func (s *Store) MaxLen() int { return s.maxLen }

// Get returns the named list newest-first. Absent lists and the empty
// placeholder both read as an empty (nil) list.
func (s *Store) Get(ctx context.Context, deviceID, property string) ([]docstore.Item, error) {
	items, err := s.records.Property(ctx, deviceID, property)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", deviceID, property, err)
	}
	return normalize(items), nil
}

// PushFront inserts item at the head of the named list, trimming the tail
// to MaxLen. Pushing the same value twice stores it twice.
func (s *Store) PushFront(ctx context.Context, deviceID, property string, item docstore.Item) error {
	return s.Update(ctx, deviceID, property, func(current []docstore.Item) ([]docstore.Item, error) {
		next := make([]docstore.Item, 0, len(current)+1)
		next = append(next, item)
		return append(next, current...), nil
	})
}

// Replace overwrites the named list with items (trimmed to MaxLen).
func (s *Store) Replace(ctx context.Context, deviceID, property string, items []docstore.Item) error {
	return s.Update(ctx, deviceID, property, func([]docstore.Item) ([]docstore.Item, error) {
		return items, nil
	})
}

// Update applies fn to the current list inside an optimistic transaction,
// retrying on contention. fn may run more than once and must not have
// side effects beyond computing the new list. The placeholder is removed
// before fn sees the list and the result is trimmed to MaxLen.
func (s *Store) Update(ctx context.Context, deviceID, property string, fn docstore.UpdateFunc) error {
	if err := s.records.EnsureDevice(ctx, deviceID); err != nil {
		return fmt.Errorf("update %s/%s: ensure record: %w", deviceID, property, err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("update %s/%s: %w", deviceID, property, err)
		}

		err := s.records.UpdateProperty(ctx, deviceID, property, func(current []docstore.Item) ([]docstore.Item, error) {
			next, err := fn(normalize(current))
			if err != nil {
				return nil, err
			}
			if len(next) > s.maxLen {
				next = next[:s.maxLen]
			}
			return next, nil
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrContention) {
			return fmt.Errorf("update %s/%s: %w", deviceID, property, err)
		}
		lastErr = err
		slog.Debug("queue contention, retrying",
			"device", deviceID,
			"property", property,
			"attempt", attempt,
		)
	}

	return fmt.Errorf("update %s/%s after %d attempts: %w: %w",
		deviceID, property, s.maxAttempts, ErrRetriesExhausted, lastErr)
}

// normalize drops a lone placeholder: an empty map or null.
func normalize(items []docstore.Item) []docstore.Item {
	if len(items) == 1 && (codec.IsEmptyMap(items[0]) || codec.IsNull(items[0])) {
		return nil
	}
	return items
}
