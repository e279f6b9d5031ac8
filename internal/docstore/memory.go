package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Records and ChunkCache.
//
// Records use real optimistic versioning: UpdateProperty snapshots the
// record version, runs fn without holding the lock and fails with
// ErrContention if another commit landed in between. InjectContention
// forces the next n commits to fail for retry tests.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	records    map[string]*memRecord
	fragments  map[fragmentKey]Fragment
	turds      map[turdKey]Turd
	contention int
}

type memRecord struct {
	version    int64
	properties map[string][]Item
}

type fragmentKey struct {
	device, message string
	chunk           int
}

type turdKey struct {
	device, message string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]*memRecord),
		fragments: make(map[fragmentKey]Fragment),
		turds:     make(map[turdKey]Turd),
	}
}

// InjectContention makes the next n UpdateProperty commits fail with
// ErrContention.
func (m *Memory) InjectContention(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contention = n
}

// Devices returns the ids of every stored record, sorted.
func (m *Memory) Devices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Memory) EnsureDevice(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[deviceID]; !ok {
		m.records[deviceID] = &memRecord{properties: make(map[string][]Item)}
	}
	return nil
}

func (m *Memory) Property(ctx context.Context, deviceID, name string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[deviceID]
	if !ok {
		return nil, nil
	}
	return CloneItems(rec.properties[name]), nil
}

func (m *Memory) UpdateProperty(ctx context.Context, deviceID, name string, fn UpdateFunc) error {
	m.mu.Lock()
	rec, ok := m.records[deviceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("update %s/%s: %w", deviceID, name, ErrNotFound)
	}
	version := rec.version
	current := CloneItems(rec.properties[name])
	m.mu.Unlock()

	next, err := fn(current)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contention > 0 {
		m.contention--
		return ErrContention
	}
	if rec.version != version {
		return ErrContention
	}
	rec.properties[name] = CloneItems(next)
	rec.version++
	return nil
}

func (m *Memory) PutFragment(ctx context.Context, f Fragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.Payload = append([]byte(nil), f.Payload...)
	m.fragments[fragmentKey{f.DeviceID, f.MessageID, f.ChunkNum}] = f
	return nil
}

func (m *Memory) Fragments(ctx context.Context, deviceID, messageID string) ([]Fragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Fragment
	for k, f := range m.fragments {
		if k.device == deviceID && k.message == messageID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkNum < out[j].ChunkNum })
	return out, nil
}

func (m *Memory) FragmentSets(ctx context.Context, deviceID string) ([]FragmentSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sets := make(map[string]*FragmentSet)
	for k, f := range m.fragments {
		if k.device != deviceID {
			continue
		}
		s, ok := sets[k.message]
		if !ok {
			s = &FragmentSet{MessageID: k.message}
			sets[k.message] = s
		}
		s.Count++
		if f.Received > s.LastReceived {
			s.LastReceived = f.Received
		}
	}
	out := make([]FragmentSet, 0, len(sets))
	for _, s := range sets {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out, nil
}

func (m *Memory) DeleteFragments(ctx context.Context, deviceID, messageID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.fragments {
		if k.device == deviceID && k.message == messageID {
			delete(m.fragments, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) PutTurd(ctx context.Context, t Turd) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turds[turdKey{t.DeviceID, t.MessageID}] = t
	return nil
}

func (m *Memory) Turds(ctx context.Context, deviceID string) ([]Turd, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Turd
	for k, t := range m.turds {
		if k.device == deviceID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out, nil
}

func (m *Memory) DeleteTurd(ctx context.Context, deviceID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turds, turdKey{deviceID, messageID})
	return nil
}

var (
	_ Records    = (*Memory)(nil)
	_ ChunkCache = (*Memory)(nil)
)
