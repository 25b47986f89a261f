package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"replay-ingest/internal/replay/replaytest"
)

func newSynthCmd() *cobra.Command {
	var matchID string
	cmd := &cobra.Command{
		Use:   "synth OUT",
		Short: "Write a synthetic 1v1 replay with one goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if matchID == "" {
				matchID = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
			}
			raw, err := replaytest.SampleMatch(matchID).Build()
			if err != nil {
				return fmt.Errorf("build replay: %w", err)
			}
			if err := os.WriteFile(args[0], raw, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, match %s)\n", args[0], humanize.Bytes(uint64(len(raw))), matchID)
			return nil
		},
	}
	cmd.Flags().StringVar(&matchID, "match-id", "", "32 hex digit match id (random when empty)")
	return cmd
}
