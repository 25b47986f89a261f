// Command replaydump inspects replay files offline using the same decoder as
// the ingestion service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "replaydump",
		Short: "Inspect car-soccer replay files",
		Long: `replaydump decodes replay files offline.

The header command runs the cheap header tier only. The frames and
telemetry commands run the full netstream tier. synth writes a small
synthetic replay that the other commands can read.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newHeaderCmd(), newFramesCmd(), newTelemetryCmd(), newSynthCmd())
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate(fmt.Sprintf("replaydump version %s\n", version))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
