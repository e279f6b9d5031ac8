// Package chunk reassembles images that older devices send as base64
// fragments spread over several messages.
//
// Each fragment carries its message id, its position and the total count.
// Fragments are cached until every position of a message is present, then
// concatenated in order, decoded and stored in the images bucket. An empty
// fragment marks its message corrupt: the cached fragments are dropped and
// a Turd is recorded so the next message from the device purges anything
// left behind.
package chunk

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/growline/internal/analytics"
	"github.com/roach88/growline/internal/blob"
	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/docstore"
	"github.com/roach88/growline/internal/queue"
)

// Wire field names of a fragment message.
const (
	FieldMessageID   = "messageID"
	FieldVarName     = "varName"
	FieldImageType   = "imageType"
	FieldChunk       = "chunk"
	FieldTotalChunks = "totalChunks"
	FieldImageChunk  = "imageChunk"
)

// DefaultAbandonAfter is how long a partial set may go without a new
// fragment before it is purged.
const DefaultAbandonAfter = time.Hour

// DefaultImagesBucket receives reassembled images.
const DefaultImagesBucket = "images"

// MaxTotalChunks bounds the fragment count a device may announce for one
// image.
const MaxTotalChunks = 4096

// ErrInvalidPart is returned for fragment messages that are missing fields
// or carry out-of-range positions.
var ErrInvalidPart = errors.New("chunk: invalid fragment")

// Part is one decoded fragment message.
type Part struct {
	MessageID   string
	VarName     string
	ImageType   string
	Chunk       int
	TotalChunks int

	// Data is the base64 text of this fragment. Empty marks the set
	// corrupt.
	Data string
}

// ParsePart extracts a Part from a decoded message.
func ParsePart(msg map[string]any) (Part, error) {
	var p Part
	var err error
	if p.MessageID, err = stringField(msg, FieldMessageID); err != nil {
		return Part{}, err
	}
	if p.VarName, err = stringField(msg, FieldVarName); err != nil {
		return Part{}, err
	}
	if p.ImageType, err = stringField(msg, FieldImageType); err != nil {
		return Part{}, err
	}
	if p.Chunk, err = intField(msg, FieldChunk); err != nil {
		return Part{}, err
	}
	if p.TotalChunks, err = intField(msg, FieldTotalChunks); err != nil {
		return Part{}, err
	}
	if p.Data, err = stringField(msg, FieldImageChunk); err != nil {
		return Part{}, err
	}

	if p.MessageID == "" {
		return Part{}, fmt.Errorf("%w: empty %s", ErrInvalidPart, FieldMessageID)
	}
	if p.TotalChunks <= 0 || p.TotalChunks > MaxTotalChunks {
		return Part{}, fmt.Errorf("%w: %s=%d outside [1,%d]", ErrInvalidPart, FieldTotalChunks, p.TotalChunks, MaxTotalChunks)
	}
	if p.Chunk < 0 || p.Chunk >= p.TotalChunks {
		return Part{}, fmt.Errorf("%w: %s=%d outside [0,%d)", ErrInvalidPart, FieldChunk, p.Chunk, p.TotalChunks)
	}
	return p, nil
}

func stringField(msg map[string]any, key string) (string, error) {
	v, ok := msg[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidPart, key)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("%w: %s is %T, want string", ErrInvalidPart, key, v)
}

func intField(msg map[string]any, key string) (int, error) {
	v, ok := msg[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidPart, key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %s=%v is not an integer", ErrInvalidPart, key, n)
		}
		if math.Abs(n) > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %s=%v out of range", ErrInvalidPart, key, n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("%w: %s is %T, want number", ErrInvalidPart, key, v)
}

// Engine caches fragments and assembles complete sets.
type Engine struct {
	cache        docstore.ChunkCache
	queue        *queue.Store
	blobs        blob.Store
	sink         analytics.Sink
	clock        clock.Clock
	bucket       string
	abandonAfter time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for cache timestamps and URL readings.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithImagesBucket sets the bucket reassembled images are saved to.
func WithImagesBucket(name string) Option {
	return func(e *Engine) { e.bucket = name }
}

// WithAbandonAfter sets the idle age after which another partial set of the
// same device is purged. Zero disables the purge.
func WithAbandonAfter(d time.Duration) Option {
	return func(e *Engine) { e.abandonAfter = d }
}

// New returns an Engine. sink may be nil.
func New(cache docstore.ChunkCache, q *queue.Store, blobs blob.Store, sink analytics.Sink, opts ...Option) *Engine {
	e := &Engine{
		cache:        cache,
		queue:        q,
		blobs:        blobs,
		sink:         sink,
		clock:        clock.Real(),
		bucket:       DefaultImagesBucket,
		abandonAfter: DefaultAbandonAfter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle parses and saves one fragment message, logging failures.
func (e *Engine) Handle(ctx context.Context, deviceID string, msg map[string]any) {
	p, err := ParsePart(msg)
	if err != nil {
		slog.Error("dropping image fragment", "device", deviceID, "error", err)
		return
	}
	if _, err := e.Save(ctx, deviceID, p); err != nil {
		slog.Error("image fragment failed", "device", deviceID, "message_id", p.MessageID, "chunk", p.Chunk, "error", err)
	}
}

// Save caches p and, when it completes its set, assembles and stores the
// image. Returns the public URL of the image, or "" while the set is
// incomplete or was marked corrupt.
func (e *Engine) Save(ctx context.Context, deviceID string, p Part) (string, error) {
	if e.cache == nil {
		slog.Warn("chunk cache unavailable, dropping fragment", "device", deviceID)
		return "", nil
	}
	now := e.clock.Now()

	if p.Data == "" {
		slog.Error("empty image fragment, discarding set", "device", deviceID, "message_id", p.MessageID)
		if _, err := e.cache.DeleteFragments(ctx, deviceID, p.MessageID); err != nil {
			return "", fmt.Errorf("discard set: %w", err)
		}
		if err := e.cache.PutTurd(ctx, docstore.Turd{DeviceID: deviceID, MessageID: p.MessageID, Recorded: clock.Format(now)}); err != nil {
			return "", fmt.Errorf("record turd: %w", err)
		}
		return "", nil
	}

	if err := e.purge(ctx, deviceID, p.MessageID, now); err != nil {
		return "", err
	}

	err := e.cache.PutFragment(ctx, docstore.Fragment{
		DeviceID:    deviceID,
		MessageID:   p.MessageID,
		VarName:     p.VarName,
		ImageType:   p.ImageType,
		ChunkNum:    p.Chunk,
		TotalChunks: p.TotalChunks,
		Payload:     []byte(p.Data),
		Received:    clock.Format(now),
	})
	if err != nil {
		return "", fmt.Errorf("cache fragment: %w", err)
	}

	frags, err := e.cache.Fragments(ctx, deviceID, p.MessageID)
	if err != nil {
		return "", fmt.Errorf("load fragments: %w", err)
	}
	if !complete(frags, p.TotalChunks) {
		slog.Debug("waiting for more fragments", "device", deviceID, "message_id", p.MessageID, "have", len(frags), "total", p.TotalChunks)
		return "", nil
	}

	// Clearing the set claims it. A concurrent save of the same set that
	// loses the race removes nothing and stops here.
	removed, err := e.cache.DeleteFragments(ctx, deviceID, p.MessageID)
	if err != nil {
		return "", fmt.Errorf("clear fragments: %w", err)
	}
	if removed == 0 {
		slog.Debug("fragment set already assembled", "device", deviceID, "message_id", p.MessageID)
		return "", nil
	}
	if err := e.cache.DeleteTurd(ctx, deviceID, p.MessageID); err != nil {
		return "", fmt.Errorf("clear turd: %w", err)
	}

	data, err := assemble(frags, p.TotalChunks)
	if err != nil {
		return "", fmt.Errorf("assemble %s: %w", p.MessageID, err)
	}
	return e.store(ctx, deviceID, p, data, now)
}

// purge drops Turd-marked sets other than messageID, and other sets of the
// device that have gone idle for longer than abandonAfter.
func (e *Engine) purge(ctx context.Context, deviceID, messageID string, now time.Time) error {
	turds, err := e.cache.Turds(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("list turds: %w", err)
	}
	for _, t := range turds {
		if t.MessageID == messageID {
			continue
		}
		if _, err := e.cache.DeleteFragments(ctx, deviceID, t.MessageID); err != nil {
			return fmt.Errorf("purge %s: %w", t.MessageID, err)
		}
		if err := e.cache.DeleteTurd(ctx, deviceID, t.MessageID); err != nil {
			return fmt.Errorf("purge turd %s: %w", t.MessageID, err)
		}
		slog.Info("purged corrupt fragment set", "device", deviceID, "message_id", t.MessageID)
	}

	if e.abandonAfter <= 0 {
		return nil
	}
	sets, err := e.cache.FragmentSets(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("list fragment sets: %w", err)
	}
	for _, s := range sets {
		if s.MessageID == messageID {
			continue
		}
		last, err := clock.Parse(s.LastReceived)
		if err != nil || now.Sub(last) <= e.abandonAfter {
			continue
		}
		if _, err := e.cache.DeleteFragments(ctx, deviceID, s.MessageID); err != nil {
			return fmt.Errorf("purge %s: %w", s.MessageID, err)
		}
		slog.Info("purged abandoned fragment set", "device", deviceID, "message_id", s.MessageID, "fragments", s.Count, "last", s.LastReceived)
	}
	return nil
}

// complete reports whether every position in [0,total) is present.
func complete(frags []docstore.Fragment, total int) bool {
	if total <= 0 || len(frags) < total {
		return false
	}
	seen := make(map[int]struct{}, len(frags))
	for _, f := range frags {
		if f.ChunkNum >= 0 && f.ChunkNum < total {
			seen[f.ChunkNum] = struct{}{}
		}
	}
	return len(seen) == total
}

// assemble concatenates the payloads in chunk order and decodes them.
// frags must already be ordered by chunk number.
func assemble(frags []docstore.Fragment, total int) ([]byte, error) {
	var b64 []byte
	for _, f := range frags {
		if f.ChunkNum < 0 || f.ChunkNum >= total {
			continue
		}
		b64 = append(b64, f.Payload...)
	}
	data, err := base64.StdEncoding.DecodeString(string(b64))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

// store saves the image and records its URL against the variable.
func (e *Engine) store(ctx context.Context, deviceID string, p Part, data []byte, now time.Time) (string, error) {
	if e.blobs == nil {
		slog.Warn("blob store unavailable, dropping image", "device", deviceID, "message_id", p.MessageID)
		return "", nil
	}
	name := blob.ObjectName(deviceID, p.VarName, p.ImageType, data)
	url, err := e.blobs.Save(ctx, e.bucket, name, data)
	if err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}

	item, err := queue.Encode(queue.Telemetry{Timestamp: clock.Format(now), Name: "URL", Value: url})
	if err != nil {
		return "", err
	}
	if err := e.queue.PushFront(ctx, deviceID, p.VarName, item); err != nil {
		return "", fmt.Errorf("record image url: %w", err)
	}

	analytics.Emit(ctx, e.sink, analytics.NewRow(analytics.KindEnv, p.VarName, deviceID, URLValues(url), now))
	slog.Info("image reassembled", "device", deviceID, "message_id", p.MessageID, "bytes", len(data), "url", url)
	return url, nil
}

// URLValues renders the values string forwarded for an image URL.
func URLValues(url string) string {
	return "{'values':[{'name':'URL', 'type':'str', 'value':'" + url + "'}]}"
}
