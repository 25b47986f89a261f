package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"replay-ingest/internal/replay"
)

func newTelemetryCmd() *cobra.Command {
	var (
		tolerance int
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "telemetry FILE",
		Short: "Run the netstream tier and print per-player telemetry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, h, err := readHeader(args[0])
			if err != nil {
				return err
			}
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			tel, err := replay.DecodeNetstream(raw, h, replay.Options{GoalFrameTolerance: tolerance, Logger: log})
			if err != nil {
				cause := replay.Cause(err)
				log.Error("netstream failed",
					slog.String("kind", string(cause.Kind)),
					slog.String("stage", cause.Stage))
				return err
			}
			return writeJSON(cmd.OutOrStdout(), tel)
		},
	}
	cmd.Flags().IntVar(&tolerance, "goal-tolerance", 0, "Goal confirmation window in frames (0 uses the default)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log skipped fields and abandoned frames")
	return cmd
}
