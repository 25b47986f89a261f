package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"replay-ingest/internal/match"
	"replay-ingest/internal/replay"
)

func newHeaderCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "header FILE",
		Short: "Decode the header tier of a replay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, h, err := readHeader(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), h)
			}
			printHeader(cmd.OutOrStdout(), h, len(raw))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the header facts as JSON")
	return cmd
}

// readHeader reads path and runs the header tier over it.
func readHeader(path string) ([]byte, *match.Header, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	h, err := replay.DecodeHeader(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return raw, h, nil
}

func printHeader(w io.Writer, h *match.Header, size int) {
	fmt.Fprintln(w, h.Summary())
	fmt.Fprintf(w, "match     %s\n", h.UUID())
	fmt.Fprintf(w, "size      %s\n", humanize.Bytes(uint64(size)))
	fmt.Fprintf(w, "version   %d.%d net %d\n", h.EngineVersion, h.LicenseeVersion, h.NetVersion)
	fmt.Fprintf(w, "length    %s (%d frames at %.0f fps)\n", h.MatchLength(), h.NumFrames, h.RecordFPS)
	fmt.Fprintf(w, "region    %s\n", h.Region())

	fmt.Fprintln(w, "players")
	for _, p := range h.Players {
		fmt.Fprintf(w, "  [%d] %-20s %-28s score %d goals %d\n", p.Team, p.Name, p.UniqueID, p.Score, p.Goals)
	}
	fmt.Fprintln(w, "goals")
	for _, g := range h.Goals {
		fmt.Fprintf(w, "  #%d %s %s (frame %d)\n", g.Number, h.GoalTime(g.Frame), g.PlayerName, g.Frame)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
