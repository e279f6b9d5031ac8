package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/notify"
)

// SchedulerFlags are the scheduler overrides shared by commands that
// evaluate schedules.
type SchedulerFlags struct {
	TestingHours int
}

// AddFlags registers the scheduler flags on flagSet.
func (f *SchedulerFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.IntVar(&f.TestingHours, "testing-hours", -1, "shift the scheduler clock forward by this many hours (-1 keeps the configured offset)")
}

// apply installs the overrides on s.
func (f *SchedulerFlags) apply(s *notify.Scheduler) {
	if f.TestingHours >= 0 {
		s.SetTestingHours(f.TestingHours)
	}
}

func schedulerFlagSet(f *SchedulerFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("scheduler", pflag.ContinueOnError)
	f.AddFlags(fs)
	return fs
}

// ScheduleResult lists a device's schedule.
type ScheduleResult struct {
	DeviceID string         `json:"device_id"`
	Now      string         `json:"now"`
	Entries  []notify.Entry `json:"entries"`
}

// CheckResult lists the entries a check fired.
type CheckResult struct {
	DeviceID string         `json:"device_id"`
	Now      string         `json:"now"`
	Fired    []notify.Entry `json:"fired"`
}

// NewScheduleCommand creates the schedule command group.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and edit device command schedules",
		Long: `Inspect and edit device command schedules.

Entries are normally created by recipe events; these commands let an
operator list, add, remove and fire them by hand.`,
	}

	cmd.AddCommand(newScheduleListCommand(rootOpts))
	cmd.AddCommand(newScheduleAddCommand(rootOpts))
	cmd.AddCommand(newScheduleRemoveCommand(rootOpts))
	cmd.AddCommand(newScheduleCheckCommand(rootOpts))

	return cmd
}

func newScheduleListCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &SchedulerFlags{}
	cmd := &cobra.Command{
		Use:           "list <device-id>",
		Short:         "List a device's scheduled commands",
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
			sched := app.Notify.Scheduler
			flags.apply(sched)

			entries, err := sched.Entries(cmd.Context(), args[0])
			if err != nil {
				return storeError(formatter, "failed to read schedule", err)
			}
			if entries == nil {
				entries = []notify.Entry{}
			}
			result := ScheduleResult{DeviceID: args[0], Now: clock.Format(sched.Now()), Entries: entries}
			return formatter.Render(result, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintf(w, "No scheduled commands for %s\n", args[0])
					return
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%-20s run_at=%s repeat=%dh count=%d\n", e.Command, e.RunAt, e.Repeat, e.Count)
				}
			})
		},
	}
	cmd.Flags().AddFlagSet(schedulerFlagSet(flags))
	return cmd
}

func newScheduleAddCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &SchedulerFlags{}
	var repeatHours int
	cmd := &cobra.Command{
		Use:   "add <device-id> <command>",
		Short: "Schedule a command for a device",
		Long: `Schedule a command for a device, replacing any entry for the same command.

The entry first fires --repeat-hours after now; a repeat of 0 fires on the
next check and is then removed.

Examples:
  growline schedule add dev-1 check_fluid
  growline schedule add dev-1 take_measurements --repeat-hours 12`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			app, err := openApp(rootOpts, nil)
			if err != nil {
				return err
			}
			defer closeApp(app)
			sched := app.Notify.Scheduler
			flags.apply(sched)

			if err := sched.Add(cmd.Context(), args[0], args[1], repeatHours); err != nil {
				if errors.Is(err, notify.ErrUnknownCommand) {
					_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("unknown command %q", args[1]), nil)
					return WrapExitError(ExitCommandError, "schedule add failed", err)
				}
				return storeError(formatter, "failed to update schedule", err)
			}
			entry, _, err := sched.Entry(cmd.Context(), args[0], args[1])
			if err != nil {
				return storeError(formatter, "failed to read schedule", err)
			}
			return formatter.Render(entry, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s scheduled for %s at %s\n", entry.Command, args[0], entry.RunAt)
			})
		},
	}
	cmd.Flags().IntVar(&repeatHours, "repeat-hours", -1, "hours until the first firing and between firings (-1 uses the command default)")
	cmd.Flags().AddFlagSet(schedulerFlagSet(flags))
	return cmd
}

func newScheduleRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "remove <device-id> [command]",
		Short: "Remove scheduled commands from a device",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			app, err := openApp(rootOpts, nil)
			if err != nil {
				return err
			}
			defer closeApp(app)
			sched := app.Notify.Scheduler

			if all {
				err = sched.RemoveAll(cmd.Context(), args[0])
			} else {
				err = sched.Remove(cmd.Context(), args[0], args[1])
			}
			if err != nil {
				return storeError(formatter, "failed to update schedule", err)
			}
			return formatter.Render(map[string]string{"device_id": args[0]}, func(w io.Writer) {
				if all {
					fmt.Fprintf(w, "✓ schedule cleared for %s\n", args[0])
					return
				}
				fmt.Fprintf(w, "✓ %s removed for %s\n", args[1], args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every scheduled command")
	return cmd
}

func newScheduleCheckCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &SchedulerFlags{}
	cmd := &cobra.Command{
		Use:   "check <device-id>",
		Short: "Fire a device's due commands",
		Long: `Fire a device's due commands, exactly as an incoming message would.

Each fired command adds a notification. Use --testing-hours to look ahead.

Examples:
  growline schedule check dev-1
  growline schedule check dev-1 --testing-hours 48`,
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
			sched := app.Notify.Scheduler
			flags.apply(sched)

			fired, err := sched.Check(cmd.Context(), args[0])
			if err != nil {
				return storeError(formatter, "schedule check failed", err)
			}
			if fired == nil {
				fired = []notify.Entry{}
			}
			result := CheckResult{DeviceID: args[0], Now: clock.Format(sched.Now()), Fired: fired}
			return formatter.Render(result, func(w io.Writer) {
				if len(fired) == 0 {
					fmt.Fprintf(w, "Nothing due for %s\n", args[0])
					return
				}
				for _, e := range fired {
					fmt.Fprintf(w, "fired %s: %s\n", e.Command, e.Message)
				}
			})
		},
	}
	cmd.Flags().AddFlagSet(schedulerFlagSet(flags))
	return cmd
}

// storeError reports a storage failure and returns the matching exit error.
func storeError(formatter *OutputFormatter, message string, err error) error {
	_ = formatter.Error(ErrCodeStore, message, err.Error())
	return WrapExitError(ExitCommandError, message, err)
}
