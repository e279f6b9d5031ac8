package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/growline/internal/analytics"
	"github.com/roach88/growline/internal/blob"
	"github.com/roach88/growline/internal/chunk"
	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/queue"
)

// Upload poller defaults.
const (
	DefaultPollInterval  = 10 * time.Second
	DefaultUploadBudget  = 5 * time.Minute
	DefaultSweepAge      = 2 * time.Hour
	DefaultUploadsBucket = "uploads"
)

// ErrUploadExpired is returned when the file never arrived within the
// budget.
var ErrUploadExpired = errors.New("dispatch: upload did not arrive in time")

// UploadConfig configures an Uploader. Zero fields take the defaults.
type UploadConfig struct {
	UploadsBucket string
	ImagesBucket  string
	Interval      time.Duration
	Budget        time.Duration
	SweepAge      time.Duration
}

func (c UploadConfig) withDefaults() UploadConfig {
	if c.UploadsBucket == "" {
		c.UploadsBucket = DefaultUploadsBucket
	}
	if c.ImagesBucket == "" {
		c.ImagesBucket = chunk.DefaultImagesBucket
	}
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.Budget <= 0 {
		c.Budget = DefaultUploadBudget
	}
	if c.SweepAge <= 0 {
		c.SweepAge = DefaultSweepAge
	}
	return c
}

// UploadResult reports how an upload was resolved.
type UploadResult struct {
	// URL is the public URL of the moved image; empty when the upload had
	// already been handled.
	URL string

	// AlreadyHandled is set when the file was found in the images bucket,
	// or vanished from the uploads bucket before it could be moved.
	AlreadyHandled bool

	// Polls counts upload-bucket checks.
	Polls int
}

type uploadState int

const (
	stateCheckDestination uploadState = iota
	stateCheckUpload
	stateWait
	stateMove
	stateDone
	stateExpired
)

func (s uploadState) String() string {
	switch s {
	case stateCheckDestination:
		return "check_destination"
	case stateCheckUpload:
		return "check_upload"
	case stateWait:
		return "wait"
	case stateMove:
		return "move"
	case stateDone:
		return "done"
	case stateExpired:
		return "expired"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Uploader moves images devices uploaded directly into the uploads bucket
// over to the images bucket once the device reports the upload.
//
// The file may be reported before it lands, so Save polls for it: every
// Interval until Budget has elapsed, waking early when the store can watch
// the bucket. Concurrent reports of the same file name share one poll.
type Uploader struct {
	blobs blob.Store
	queue *queue.Store
	sink  analytics.Sink
	clock clock.Clock
	cfg   UploadConfig
	group singleflight.Group
}

// NewUploader returns an Uploader. sink may be nil.
func NewUploader(blobs blob.Store, q *queue.Store, sink analytics.Sink, c clock.Clock, cfg UploadConfig) *Uploader {
	if c == nil {
		c = clock.Real()
	}
	return &Uploader{blobs: blobs, queue: q, sink: sink, clock: c, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (u *Uploader) Config() UploadConfig { return u.cfg }

// Save waits for fileName to reach the uploads bucket, moves it to the
// images bucket and records its URL under varName. Returns
// ErrUploadExpired when the budget runs out first.
func (u *Uploader) Save(ctx context.Context, deviceID, varName, fileName string) (UploadResult, error) {
	if u.blobs == nil {
		slog.Warn("blob store unavailable, dropping upload", "device", deviceID, "file", fileName)
		return UploadResult{}, nil
	}
	key := deviceID + "/" + varName + "/" + fileName
	v, err, shared := u.group.Do(key, func() (any, error) {
		res, err := u.poll(ctx, deviceID, varName, fileName)
		u.sweep(ctx)
		return res, err
	})
	if shared {
		slog.Debug("joined in-flight upload poll", "device", deviceID, "file", fileName)
	}
	res, _ := v.(UploadResult)
	return res, err
}

func (u *Uploader) poll(ctx context.Context, deviceID, varName, fileName string) (UploadResult, error) {
	start := u.clock.Now()
	deadline := start.Add(u.cfg.Budget)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	arrivals := u.watch(watchCtx)

	var res UploadResult
	state := stateCheckDestination
	for {
		switch state {
		case stateCheckDestination:
			ok, err := u.blobs.Exists(ctx, u.cfg.ImagesBucket, fileName)
			if err != nil {
				return res, fmt.Errorf("check %s: %w", u.cfg.ImagesBucket, err)
			}
			if ok {
				slog.Info("upload already handled", "device", deviceID, "file", fileName)
				res.AlreadyHandled = true
				state = stateDone
				continue
			}
			state = stateCheckUpload

		case stateCheckUpload:
			res.Polls++
			ok, err := u.blobs.Exists(ctx, u.cfg.UploadsBucket, fileName)
			if err != nil {
				return res, fmt.Errorf("check %s: %w", u.cfg.UploadsBucket, err)
			}
			if ok {
				state = stateMove
			} else {
				state = stateWait
			}

		case stateWait:
			if err := u.wait(ctx, arrivals, fileName); err != nil {
				return res, err
			}
			if u.clock.Now().After(deadline) {
				state = stateExpired
				continue
			}
			slog.Debug("waiting for upload", "device", deviceID, "file", fileName, "waited", u.clock.Now().Sub(start))
			state = stateCheckDestination

		case stateMove:
			url, err := u.blobs.Move(ctx, u.cfg.UploadsBucket, u.cfg.ImagesBucket, fileName)
			if errors.Is(err, blob.ErrNotExist) {
				slog.Warn("upload already moved", "device", deviceID, "file", fileName)
				res.AlreadyHandled = true
				state = stateDone
				continue
			}
			if err != nil {
				return res, fmt.Errorf("move %s: %w", fileName, err)
			}
			res.URL = url
			if err := u.record(ctx, deviceID, varName, url); err != nil {
				return res, err
			}
			state = stateDone

		case stateDone:
			slog.Info("upload done", "device", deviceID, "file", fileName, "url", res.URL, "elapsed", u.clock.Now().Sub(start))
			return res, nil

		case stateExpired:
			slog.Warn("upload never arrived", "device", deviceID, "file", fileName, "budget", u.cfg.Budget)
			return res, fmt.Errorf("%s: %w", fileName, ErrUploadExpired)
		}
	}
}

// watch subscribes to uploads-bucket arrivals when the store supports it.
// The subscription ends with ctx.
func (u *Uploader) watch(ctx context.Context) <-chan string {
	w, ok := u.blobs.(blob.Watcher)
	if !ok {
		return nil
	}
	ch, err := w.Watch(ctx, u.cfg.UploadsBucket)
	if err != nil {
		slog.Warn("bucket watch unavailable, polling only", "bucket", u.cfg.UploadsBucket, "error", err)
		return nil
	}
	return ch
}

// wait blocks for one interval, or until fileName arrives.
func (u *Uploader) wait(ctx context.Context, arrivals <-chan string, fileName string) error {
	timer := u.clock.After(u.cfg.Interval)
	base := path.Base(fileName)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer:
			return nil
		case name, ok := <-arrivals:
			if !ok {
				arrivals = nil
				continue
			}
			if name == fileName || name == base {
				return nil
			}
		}
	}
}

// record pushes the image URL under the variable and forwards a URL row.
// The row keeps the Image message type's Env key.
func (u *Uploader) record(ctx context.Context, deviceID, varName, url string) error {
	now := u.clock.Now()
	item, err := queue.Encode(queue.Telemetry{Timestamp: clock.Format(now), Name: "URL", Value: url})
	if err != nil {
		return err
	}
	if err := u.queue.PushFront(ctx, deviceID, varName, item); err != nil {
		return fmt.Errorf("record upload url: %w", err)
	}
	analytics.Emit(ctx, u.sink, analytics.NewRow(analytics.KindEnv, varName, deviceID, chunk.URLValues(url), now))
	return nil
}

// sweep removes stale objects from the uploads bucket.
func (u *Uploader) sweep(ctx context.Context) {
	n, err := u.blobs.DeleteOlderThan(ctx, u.cfg.UploadsBucket, u.cfg.SweepAge)
	if err != nil {
		slog.Warn("upload sweep failed", "bucket", u.cfg.UploadsBucket, "error", err)
		return
	}
	if n > 0 {
		slog.Info("swept stale uploads", "bucket", u.cfg.UploadsBucket, "removed", n)
	}
}
