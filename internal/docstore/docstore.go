// Package docstore defines the document-store capabilities growline needs
// and an in-memory implementation of them.
//
// Two capabilities are consumed:
//   - Records: one record per device holding named property lists, mutated
//     only through optimistic read-modify-write (UpdateProperty).
//   - ChunkCache: the transient fragment cache and Turd ledger used while
//     reassembling chunked payloads.
//
// The SQLite implementation lives in internal/store. Memory is used by
// tests and by the scenario harness.
package docstore

import (
	"context"
	"errors"

	"github.com/roach88/growline/internal/codec"
)

// Item is one encoded element of a property list.
type Item = codec.RawMessage

var (
	// ErrContention is returned by UpdateProperty when another writer
	// committed between the read and the write. Callers retry.
	ErrContention = errors.New("docstore: concurrent update")

	// ErrNotFound is returned when a device record does not exist.
	ErrNotFound = errors.New("docstore: record not found")

	// ErrUnavailable marks a store that cannot serve requests.
	ErrUnavailable = errors.New("docstore: unavailable")
)

// UpdateFunc receives the current property list (never nil-aliased with
// stored state) and returns the list to commit.
type UpdateFunc func(current []Item) ([]Item, error)

// Records stores named property lists per device.
type Records interface {
	// EnsureDevice creates an empty record for deviceID if none exists.
	EnsureDevice(ctx context.Context, deviceID string) error

	// Property returns the named list, or nil if the record or list is absent.
	Property(ctx context.Context, deviceID, name string) ([]Item, error)

	// UpdateProperty performs one optimistic transaction: read the list,
	// call fn, commit the result. Returns ErrContention when the record
	// changed underneath; it does not retry.
	UpdateProperty(ctx context.Context, deviceID, name string, fn UpdateFunc) error
}

// Fragment is one cached part of a chunked payload. Unique on
// (DeviceID, MessageID, ChunkNum).
type Fragment struct {
	DeviceID    string
	MessageID   string
	VarName     string
	ImageType   string
	ChunkNum    int
	TotalChunks int
	Payload     []byte
	Received    string
}

// Turd marks a fragment set known to be corrupt.
type Turd struct {
	DeviceID  string
	MessageID string
	Recorded  string
}

// FragmentSet summarizes the cached fragments of one message.
type FragmentSet struct {
	MessageID    string
	Count        int
	LastReceived string
}

// ChunkCache holds in-flight fragments and the Turd ledger.
type ChunkCache interface {
	// PutFragment stores f, replacing any fragment with the same key.
	PutFragment(ctx context.Context, f Fragment) error

	// Fragments returns the cached fragments of one message ordered by
	// chunk number.
	Fragments(ctx context.Context, deviceID, messageID string) ([]Fragment, error)

	// FragmentSets lists the messages with cached fragments for a device,
	// ordered by message id.
	FragmentSets(ctx context.Context, deviceID string) ([]FragmentSet, error)

	// DeleteFragments removes every cached fragment of one message and
	// reports how many were removed.
	DeleteFragments(ctx context.Context, deviceID, messageID string) (int, error)

	// PutTurd records t, replacing any existing mark for the same message.
	PutTurd(ctx context.Context, t Turd) error

	// Turds lists the Turd marks of a device ordered by message id.
	Turds(ctx context.Context, deviceID string) ([]Turd, error)

	// DeleteTurd removes the mark for one message.
	DeleteTurd(ctx context.Context, deviceID, messageID string) error
}

// CloneItems returns a deep copy of items.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = append(Item(nil), it...)
	}
	return out
}
