// Package blob stores binary objects in named buckets.
//
// Two buckets matter to growline: the uploads bucket, where devices drop
// files directly, and the images bucket, where reassembled and moved
// images live and are served from a public URL. Dir keeps each bucket in a
// directory and can watch it for arrivals; Memory backs tests.
package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ErrNotExist is returned when an object is absent.
var ErrNotExist = errors.New("blob: object does not exist")

// ErrInvalidName is returned for names that escape their bucket.
var ErrInvalidName = errors.New("blob: invalid object name")

// Store is the blob capability consumed by the dispatcher and the chunk
// engine.
type Store interface {
	// Exists reports whether bucket/name is present.
	Exists(ctx context.Context, bucket, name string) (bool, error)

	// Save writes data to bucket/name and returns its public URL.
	Save(ctx context.Context, bucket, name string, data []byte) (string, error)

	// Read returns the contents of bucket/name.
	Read(ctx context.Context, bucket, name string) ([]byte, error)

	// Move relocates name from src to dst and returns the new public URL.
	// Returns ErrNotExist if name is not in src.
	Move(ctx context.Context, src, dst, name string) (string, error)

	// DeleteOlderThan removes objects in bucket created more than age ago
	// and returns how many were removed.
	DeleteOlderThan(ctx context.Context, bucket string, age time.Duration) (int, error)

	// URL returns the public URL bucket/name is (or would be) served at.
	URL(bucket, name string) string
}

// Watcher is implemented by stores that can signal object arrivals.
type Watcher interface {
	// Watch delivers the names of objects created in bucket until ctx is
	// done, then closes the channel.
	Watch(ctx context.Context, bucket string) (<-chan string, error)
}

// ObjectName names reassembled image data. The content digest makes
// repeated saves of identical bytes idempotent.
//
// Format: <device>/<var>-<blake3 prefix>.<imageType>
func ObjectName(deviceID, varName, imageType string, data []byte) string {
	sum := blake3.Sum256(data)
	ext := strings.TrimPrefix(strings.ToLower(imageType), ".")
	return path.Join(sanitize(deviceID), sanitize(varName)+"-"+hex.EncodeToString(sum[:8])+"."+sanitize(ext))
}

// sanitize keeps a name component inside its directory.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// validName rejects absolute paths and parent references.
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." || part == "" {
			return false
		}
	}
	return true
}

// joinURL builds base/bucket/name without doubling slashes.
func joinURL(base, bucket, name string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + name
}
