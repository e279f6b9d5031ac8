package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/growline/internal/dispatch"
)

// SendResult reports one dispatched message.
type SendResult struct {
	DeviceID string `json:"device_id"`
	Type     string `json:"type"`
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <device-id> <message-json>",
		Short: "Dispatch a single device message",
		Long: `Dispatch a single device message, exactly as if the device had sent it.

The message is the inner object of a telemetry envelope. Rejected messages
print their error code and exit with status 1.

Examples:
  growline send dev-1 '{"messageType":"EnvVar","var":"temp","values":"{\"name\":\"temp\",\"value\":21.5}"}'
  growline send dev-1 '{"messageType":"RecipeEvent","action":"start","name":"basil"}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runSend(opts *RootOptions, deviceID, raw string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	var msg dispatch.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		_ = formatter.Error(ErrCodeInvalidMessage, "message is not a JSON object", err.Error())
		return WrapExitError(ExitCommandError, "invalid message", err)
	}

	app, err := openApp(opts, nil)
	if err != nil {
		return err
	}
	defer closeApp(app)

	formatter.VerboseLog("Dispatching %s for %s", msg.Type(), deviceID)
	if err := app.Dispatcher.Dispatch(cmd.Context(), deviceID, msg); err != nil {
		if dispatch.IsInvalidMessage(err) {
			_ = formatter.Error(ErrCodeInvalidMessage, string(dispatch.CodeOf(err)), err.Error())
			return WrapExitError(ExitFailure, "message rejected", err)
		}
		return WrapExitError(ExitFailure, "dispatch failed", err)
	}

	result := SendResult{DeviceID: deviceID, Type: string(msg.Type())}
	return formatter.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s dispatched for %s\n", result.Type, result.DeviceID)
	})
}
