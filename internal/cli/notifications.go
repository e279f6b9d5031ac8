package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/growline/internal/notify"
)

// NotificationsResult lists a device's notifications, newest first.
type NotificationsResult struct {
	DeviceID      string                `json:"device_id"`
	Notifications []notify.Notification `json:"notifications"`
}

// AckResult reports which notifications were acknowledged.
type AckResult struct {
	DeviceID string   `json:"device_id"`
	Acked    []string `json:"acked"`
}

// NewNotificationsCommand creates the notifications command group.
func NewNotificationsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notes"},
		Short:   "List and acknowledge device notifications",
	}

	cmd.AddCommand(newNotificationsListCommand(rootOpts))
	cmd.AddCommand(newNotificationsAckCommand(rootOpts))

	return cmd
}

func newNotificationsListCommand(rootOpts *RootOptions) *cobra.Command {
	var unacked bool
	cmd := &cobra.Command{
		Use:           "list <device-id>",
		Short:         "List a device's notifications",
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

			notes := app.Notify.Notifications
			var list []notify.Notification
			if unacked {
				list, err = notes.Unacknowledged(cmd.Context(), args[0])
			} else {
				list, err = notes.All(cmd.Context(), args[0])
			}
			if err != nil {
				return storeError(formatter, "failed to read notifications", err)
			}
			if list == nil {
				list = []notify.Notification{}
			}

			return formatter.Render(NotificationsResult{DeviceID: args[0], Notifications: list}, func(w io.Writer) {
				if len(list) == 0 {
					fmt.Fprintf(w, "No notifications for %s\n", args[0])
					return
				}
				for _, n := range list {
					mark := " "
					if n.Acknowledged != "" {
						mark = "✓"
					}
					fmt.Fprintf(w, "%s %s  %s  %s\n", mark, n.ID, n.Created, n.Message)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&unacked, "unacked", false, "only list unacknowledged notifications")
	return cmd
}

func newNotificationsAckCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "ack <device-id> [notification-id]",
		Short: "Acknowledge notifications",
		Long: `Acknowledge one notification by id, or every open one with --all.

Examples:
  growline notifications ack dev-1 042117
  growline notifications ack dev-1 --all`,
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

			ctx := cmd.Context()
			notes := app.Notify.Notifications
			deviceID := args[0]

			var ids []string
			if all {
				open, err := notes.Unacknowledged(ctx, deviceID)
				if err != nil {
					return storeError(formatter, "failed to read notifications", err)
				}
				for _, n := range open {
					ids = append(ids, n.ID)
				}
			} else {
				ids = []string{args[1]}
			}

			result := AckResult{DeviceID: deviceID, Acked: []string{}}
			for _, id := range ids {
				found, err := notes.Ack(ctx, deviceID, id)
				if err != nil {
					return storeError(formatter, "failed to acknowledge notification", err)
				}
				if !found {
					_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("notification %s not found for %s", id, deviceID), nil)
					return NewExitError(ExitFailure, fmt.Sprintf("notification %s not found", id))
				}
				result.Acked = append(result.Acked, id)
			}

			return formatter.Render(result, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %d notification(s) acknowledged for %s\n", len(result.Acked), deviceID)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "acknowledge every unacknowledged notification")
	return cmd
}
