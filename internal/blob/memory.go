package blob

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/growline/internal/clock"
)

// Memory is an in-process Store and Watcher. Object age is measured on
// the injected clock.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	clock    clock.Clock
	buckets  map[string]map[string]memObject
	watchers map[string][]chan string
}

type memObject struct {
	data    []byte
	created time.Time
}

// NewMemory returns an empty store. A nil clock uses clock.Real().
func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.Real()
	}
	return &Memory{
		clock:    c,
		buckets:  make(map[string]map[string]memObject),
		watchers: make(map[string][]chan string),
	}
}

func (m *Memory) URL(bucket, name string) string {
	return "mem://" + bucket + "/" + name
}

func (m *Memory) Exists(ctx context.Context, bucket, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[bucket][name]
	return ok, nil
}

func (m *Memory) Save(ctx context.Context, bucket, name string, data []byte) (string, error) {
	if !validName(bucket) || !validName(name) {
		return "", fmt.Errorf("%w: %s/%s", ErrInvalidName, bucket, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(bucket, name, memObject{data: append([]byte(nil), data...), created: m.clock.Now()})
	return m.URL(bucket, name), nil
}

func (m *Memory) Read(ctx context.Context, bucket, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.buckets[bucket][name]
	if !ok {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, name, ErrNotExist)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *Memory) Move(ctx context.Context, src, dst, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.buckets[src][name]
	if !ok {
		return "", fmt.Errorf("move %s/%s: %w", src, name, ErrNotExist)
	}
	delete(m.buckets[src], name)
	m.putLocked(dst, name, obj)
	return m.URL(dst, name), nil
}

func (m *Memory) DeleteOlderThan(ctx context.Context, bucket string, age time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.clock.Now().Add(-age)
	deleted := 0
	for name, obj := range m.buckets[bucket] {
		if obj.created.Before(cutoff) {
			delete(m.buckets[bucket], name)
			deleted++
		}
	}
	return deleted, nil
}

// Names lists the objects in bucket, sorted.
func (m *Memory) Names(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.buckets[bucket]))
	for name := range m.buckets[bucket] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Memory) Watch(ctx context.Context, bucket string) (<-chan string, error) {
	ch := make(chan string, 16)
	m.mu.Lock()
	m.watchers[bucket] = append(m.watchers[bucket], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.watchers[bucket]
		for i, w := range list {
			if w == ch {
				m.watchers[bucket] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// putLocked stores obj and notifies watchers. Must be called with m.mu held.
func (m *Memory) putLocked(bucket, name string, obj memObject) {
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = make(map[string]memObject)
	}
	m.buckets[bucket][name] = obj
	for _, w := range m.watchers[bucket] {
		select {
		case w <- name:
		default:
		}
	}
}

var (
	_ Store   = (*Memory)(nil)
	_ Watcher = (*Memory)(nil)
)
