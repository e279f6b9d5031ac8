package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/growline/internal/notify"
)

// NewCommandsCommand creates the commands command.
func NewCommandsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "commands",
		Short:         "Show the active schedulable command set",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			// Run the set through a scheduler so the output is validated and
			// ordered the way it is applied.
			sched := notify.NewScheduler(nil, nil, nil)
			if err := sched.SetCommands(cfg.Scheduler.Commands); err != nil {
				_ = formatter.Error(ErrCodeConfig, "invalid command set", err.Error())
				return WrapExitError(ExitCommandError, "invalid command set", err)
			}
			cmds := sched.Commands()

			return formatter.Render(cmds, func(w io.Writer) {
				for _, c := range cmds {
					repeat := fmt.Sprintf("every %dh", c.RepeatHours)
					if c.RepeatHours == 0 {
						repeat = "once"
					}
					if c.InitialRepeatHours > 0 {
						repeat += fmt.Sprintf(" (first after %dh)", c.InitialRepeatHours)
					}
					fmt.Fprintf(w, "%-20s %-28s %s\n", c.Name, repeat, c.Message)
				}
			})
		},
	}
}
