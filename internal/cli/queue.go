package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/growline/internal/queue"
)

// QueueResult lists one property of one device, newest first.
type QueueResult struct {
	DeviceID string `json:"device_id"`
	Property string `json:"property"`
	Items    []any  `json:"items"`
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue <device-id> <property>",
		Short: "Show a device's stored readings for one property",
		Long: `Show a device's stored readings for one property, newest first.

Properties are the var names devices report (temp, ph, ...) plus the
record lists kept for each device: schedule, runs and notifications.

Examples:
  growline queue dev-1 temp
  growline queue dev-1 notifications --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runQueue(opts *RootOptions, deviceID, property string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	app, err := openApp(opts, nil)
	if err != nil {
		return err
	}
	defer closeApp(app)

	items, err := app.Queue.Get(cmd.Context(), deviceID, property)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, "failed to read queue", err.Error())
		return WrapExitError(ExitCommandError, "failed to read queue", err)
	}
	values, err := queue.DecodeAny(items)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, "undecodable queue item", err.Error())
		return WrapExitError(ExitCommandError, "failed to decode queue", err)
	}
	if values == nil {
		values = []any{}
	}

	result := QueueResult{DeviceID: deviceID, Property: property, Items: values}
	return formatter.Render(result, func(w io.Writer) {
		if len(values) == 0 {
			fmt.Fprintf(w, "No %s items for %s\n", property, deviceID)
			return
		}
		for i, v := range values {
			line, err := json.Marshal(v)
			if err != nil {
				line = []byte(fmt.Sprint(v))
			}
			fmt.Fprintf(w, "%3d  %s\n", i, line)
		}
	})
}

// NewDevicesCommand creates the devices command.
func NewDevicesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "devices",
		Short:         "List devices with stored records",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			app, err := openApp(rootOpts, nil)
			if err != nil {
				return err
			}
			defer closeApp(app)

			devices, err := app.Store.Devices(cmd.Context())
			if err != nil {
				return storeError(formatter, "failed to list devices", err)
			}
			if devices == nil {
				devices = []string{}
			}
			return formatter.Render(devices, func(w io.Writer) {
				for _, d := range devices {
					fmt.Fprintln(w, d)
				}
			})
		},
	}
}
