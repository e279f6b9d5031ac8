package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/growline/internal/clock"
)

// Dir stores each bucket as a directory under Root. Object age is the
// file modification time.
type Dir struct {
	root    string
	baseURL string
	clock   clock.Clock
}

// NewDir returns a Dir rooted at root. URLs are baseURL/bucket/name; an
// empty baseURL yields file:// URLs.
func NewDir(root, baseURL string, c clock.Clock) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob root: %w", err)
	}
	if baseURL == "" {
		baseURL = "file://" + filepath.ToSlash(abs)
	}
	if c == nil {
		c = clock.Real()
	}
	return &Dir{root: abs, baseURL: baseURL, clock: c}, nil
}

func (d *Dir) path(bucket, name string) (string, error) {
	if !validName(bucket) || !validName(name) {
		return "", fmt.Errorf("%w: %s/%s", ErrInvalidName, bucket, name)
	}
	return filepath.Join(d.root, bucket, filepath.FromSlash(name)), nil
}

func (d *Dir) URL(bucket, name string) string {
	return joinURL(d.baseURL, bucket, name)
}

func (d *Dir) Exists(ctx context.Context, bucket, name string) (bool, error) {
	p, err := d.path(bucket, name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s/%s: %w", bucket, name, err)
	}
	return true, nil
}

func (d *Dir) Save(ctx context.Context, bucket, name string, data []byte) (string, error) {
	p, err := d.path(bucket, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("save %s/%s: %w", bucket, name, err)
	}

	// Write then rename so watchers never observe a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(p), ".partial-*")
	if err != nil {
		return "", fmt.Errorf("save %s/%s: %w", bucket, name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save %s/%s: %w", bucket, name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save %s/%s: %w", bucket, name, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save %s/%s: %w", bucket, name, err)
	}
	return d.URL(bucket, name), nil
}

func (d *Dir) Read(ctx context.Context, bucket, name string) ([]byte, error) {
	p, err := d.path(bucket, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, name, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, name, err)
	}
	return data, nil
}

func (d *Dir) Move(ctx context.Context, src, dst, name string) (string, error) {
	from, err := d.path(src, name)
	if err != nil {
		return "", err
	}
	to, err := d.path(dst, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return "", fmt.Errorf("move %s: %w", name, err)
	}
	if err := os.Rename(from, to); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("move %s/%s: %w", src, name, ErrNotExist)
		}
		return "", fmt.Errorf("move %s/%s: %w", src, name, err)
	}
	return d.URL(dst, name), nil
}

func (d *Dir) DeleteOlderThan(ctx context.Context, bucket string, age time.Duration) (int, error) {
	if !validName(bucket) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidName, bucket)
	}
	dir := filepath.Join(d.root, bucket)
	cutoff := d.clock.Now().Add(-age)

	deleted := 0
	err := filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return ctx.Err()
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("blob sweep failed", "path", p, "error", err)
				return nil
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("sweep %s: %w", bucket, err)
	}
	return deleted, nil
}

// Watch reports files created or renamed into the top level of bucket.
func (d *Dir) Watch(ctx context.Context, bucket string) (<-chan string, error) {
	if !validName(bucket) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidName, bucket)
	}
	dir := filepath.Join(d.root, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("watch %s: %w", bucket, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", bucket, err)
	}

	names := make(chan string, 16)
	go func() {
		defer close(names)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				name := filepath.Base(event.Name)
				if len(name) > 0 && name[0] == '.' {
					continue
				}
				select {
				case names <- name:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("bucket watch error", "bucket", bucket, "error", err)
			}
		}
	}()
	return names, nil
}

var (
	_ Store   = (*Dir)(nil)
	_ Watcher = (*Dir)(nil)
)
