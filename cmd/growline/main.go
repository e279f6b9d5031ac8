// Command growline ingests grow-box telemetry and manages device schedules.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/growline/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "growline:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
