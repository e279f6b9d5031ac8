package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/growline/internal/notify"
)

// RunsResult lists a device's recipe runs, newest first.
type RunsResult struct {
	DeviceID string       `json:"device_id"`
	Runs     []notify.Run `json:"runs"`
}

// NewRunsCommand creates the runs command group.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and record recipe runs",
		Long: `Inspect and record recipe runs.

start and stop apply the same schedule changes as the matching recipe
events a device sends.`,
	}

	cmd.AddCommand(newRunsListCommand(rootOpts))
	cmd.AddCommand(newRunsEventCommand(rootOpts, "start <device-id> <recipe>", "Start a recipe run", notify.EventRecipeStart, 2))
	cmd.AddCommand(newRunsEventCommand(rootOpts, "stop <device-id>", "Stop the open recipe run", notify.EventRecipeStop, 1))
	cmd.AddCommand(newRunsEventCommand(rootOpts, "end <device-id>", "End the open recipe run and schedule the harvest", notify.EventRecipeEnd, 1))

	return cmd
}

func newRunsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <device-id>",
		Short:         "List a device's recipe runs",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			app, err := openApp(rootOpts, nil)
			if err != nil {
				return err
			}
			defer closeApp(app)

			runs, err := app.Notify.Runs.All(cmd.Context(), args[0])
			if err != nil {
				return storeError(formatter, "failed to read runs", err)
			}
			if runs == nil {
				runs = []notify.Run{}
			}
			return formatter.Render(RunsResult{DeviceID: args[0], Runs: runs}, func(w io.Writer) {
				if len(runs) == 0 {
					fmt.Fprintf(w, "No runs for %s\n", args[0])
					return
				}
				for _, r := range runs {
					end := r.End
					if r.Open() {
						end = "(running)"
					}
					fmt.Fprintf(w, "%-20s %s .. %s\n", r.RecipeName, r.Start, end)
				}
			})
		},
	}
}

func newRunsEventCommand(rootOpts *RootOptions, use, short string, typ notify.EventType, nargs int) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(nargs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			app, err := openApp(rootOpts, nil)
			if err != nil {
				return err
			}
			defer closeApp(app)

			ev := notify.Event{DeviceID: args[0], Type: typ}
			if nargs > 1 {
				ev.Message = args[1]
			}
			if err := app.Notify.Handle(cmd.Context(), ev); err != nil {
				return storeError(formatter, fmt.Sprintf("%s failed", typ), err)
			}

			latest, _, err := app.Notify.Runs.Latest(cmd.Context(), args[0])
			if err != nil {
				return storeError(formatter, "failed to read runs", err)
			}
			return formatter.Render(latest, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s applied for %s\n", typ, args[0])
			})
		},
	}
}
