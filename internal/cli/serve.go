package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/growline/internal/bus"
	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/dispatch"
	"github.com/roach88/growline/internal/notify"
)

// maxLineSize bounds one NDJSON input line. Image fragments are the
// largest messages devices send.
const maxLineSize = 16 << 20

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Input string // NDJSON source; "-" is stdin
}

// ServeSummary reports what serve consumed.
type ServeSummary struct {
	Telemetry     int `json:"telemetry"`
	Recipes       int `json:"recipes"`
	Skipped       int `json:"skipped"`
	Notifications int `json:"notifications"`
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Ingest device messages from an NDJSON stream",
		Long: `Ingest device messages from an NDJSON stream.

Each input line is either a telemetry envelope
  {"deviceId": "...", "message": {"messageType": "EnvVar", ...}}
or a recipe event
  {"device_ID": "...", "message_type": "recipe_start", "message": "basil"}

Envelopes are published on the telemetry topic and handled by the
dispatcher; recipe events go to the notification service. Notifications
created while serving are printed as they happen. serve exits when the
input ends and every message has been handled, or on SIGINT/SIGTERM.

Examples:
  growline serve --config growline.yaml --input devices.ndjson
  tail -f devices.ndjson | growline serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "-", "NDJSON input file (- for stdin)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if opts.Input != "-" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		in = f
	}

	// Notifications travel on their own bus so they can still be
	// delivered while the ingest bus drains after Close.
	ingest := bus.NewMemory(bus.WithWorkers(cfg.Bus.Workers), bus.WithMaxDeliveries(cfg.Bus.MaxDeliveries))
	events := bus.NewMemory(bus.WithWorkers(1))

	app, err := newApp(cfg, clock.Real(), events)
	if err != nil {
		return err
	}
	defer closeApp(app)

	if err := app.Dispatcher.Subscribe(ingest, "dispatcher"); err != nil {
		return err
	}
	if err := ingest.Subscribe(bus.TopicRecipes, "notify", app.Notify.HandleMessage); err != nil {
		return err
	}

	var summary ServeSummary
	var mu sync.Mutex
	printer := func(ctx context.Context, msg bus.Message) error {
		mu.Lock()
		defer mu.Unlock()
		summary.Notifications++
		if opts.Format == "json" {
			return nil
		}
		var p notify.Published
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			slog.Error("undecodable notification", "message_id", msg.ID, "error", err)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", p.Notification.Created, p.DeviceID, p.Notification.Message)
		return nil
	}
	if err := events.Subscribe(bus.TopicNotifications, "printer", printer); err != nil {
		return err
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("serving", "database", cfg.Database, "buckets", cfg.Buckets.Root, "input", opts.Input)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer events.Close()
		return ingest.Run(gctx)
	})
	g.Go(func() error {
		return events.Run(gctx)
	})
	g.Go(func() error {
		defer ingest.Close()
		counts, err := feed(gctx, in, ingest)
		mu.Lock()
		summary.Telemetry, summary.Recipes, summary.Skipped = counts.Telemetry, counts.Recipes, counts.Skipped
		mu.Unlock()
		return err
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return WrapExitError(ExitFailure, "serve failed", err)
	}

	slog.Info("stopped", "telemetry", summary.Telemetry, "recipes", summary.Recipes, "skipped", summary.Skipped)
	return formatter.Render(summary, func(w io.Writer) {
		fmt.Fprintf(w, "Processed %d telemetry and %d recipe messages (%d skipped), %d notifications\n",
			summary.Telemetry, summary.Recipes, summary.Skipped, summary.Notifications)
	})
}

// inputLine is the union of the two accepted line shapes.
type inputLine struct {
	DeviceID    string `json:"deviceId"`
	RecipeEvent string `json:"message_type"`
}

// feed publishes each line of r on its topic until r ends or ctx is done.
func feed(ctx context.Context, r io.Reader, pub bus.Publisher) (ServeSummary, error) {
	var counts ServeSummary
	lines := scanLines(ctx, r)
	for {
		var item lineOrErr
		var ok bool
		select {
		case <-ctx.Done():
			return counts, ctx.Err()
		case item, ok = <-lines:
		}
		if !ok {
			return counts, nil
		}
		if item.err != nil {
			return counts, fmt.Errorf("read input: %w", item.err)
		}

		topic, err := classifyLine(item.line)
		if err != nil {
			slog.Warn("skipping input line", "line", item.n, "error", err)
			counts.Skipped++
			continue
		}
		if _, err := pub.Publish(ctx, topic, item.line); err != nil {
			return counts, fmt.Errorf("publish line %d: %w", item.n, err)
		}
		if topic == bus.TopicRecipes {
			counts.Recipes++
		} else {
			counts.Telemetry++
		}
	}
}

// classifyLine picks the topic for one input line.
func classifyLine(line []byte) (string, error) {
	var probe inputLine
	if err := json.Unmarshal(line, &probe); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	switch {
	case probe.DeviceID != "":
		if _, err := dispatch.DecodeEnvelope(line); err != nil {
			return "", err
		}
		return bus.TopicTelemetry, nil
	case probe.RecipeEvent != "":
		return bus.TopicRecipes, nil
	}
	return "", fmt.Errorf("neither a telemetry envelope nor a recipe event")
}

type lineOrErr struct {
	n    int
	line []byte
	err  error
}

// scanLines reads non-blank lines in the background until r ends or ctx
// is done. A read that never returns (an idle terminal) keeps the
// goroutine alive until exit.
func scanLines(ctx context.Context, r io.Reader) <-chan lineOrErr {
	out := make(chan lineOrErr)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64<<10), maxLineSize)
		n := 0
		for sc.Scan() {
			n++
			line := sc.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			select {
			case out <- lineOrErr{n: n, line: append([]byte(nil), line...)}:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			select {
			case out <- lineOrErr{n: n, err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

