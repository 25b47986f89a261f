package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"replay-ingest/internal/replay"
	"replay-ingest/internal/replay/netstream"
)

var errLimit = errors.New("frame limit reached")

func newFramesCmd() *cobra.Command {
	var (
		from    int
		limit   int
		updates bool
	)
	cmd := &cobra.Command{
		Use:   "frames FILE",
		Short: "List decoded netstream frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, h, err := readHeader(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printed := 0
			st, err := replay.WalkFrames(raw, h, func(f *netstream.Frame) error {
				if f.Index < from {
					return nil
				}
				if limit > 0 && printed >= limit {
					return errLimit
				}
				printed++
				printFrame(out, f, updates)
				return nil
			})
			if err != nil && !errors.Is(err, errLimit) {
				return err
			}
			fmt.Fprintf(out, "%d frames, %d events, %d skipped fields, %d abandoned frames\n",
				st.Frames, st.Events, st.SkippedFields, st.AbandonedFrames)
			return nil
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "First frame to print")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of frames to print (0 prints all)")
	cmd.Flags().BoolVarP(&updates, "updates", "u", false, "Print field updates of every event")
	return cmd
}

func printFrame(w io.Writer, f *netstream.Frame, updates bool) {
	fmt.Fprintf(w, "frame %d t=%.3f dt=%.3f events=%d", f.Index, f.Time, f.Delta, len(f.Events))
	if f.Abandoned {
		fmt.Fprintf(w, " abandoned (%s)", f.AbandonReason)
	}
	fmt.Fprintln(w)
	if !updates {
		return
	}
	for _, ev := range f.Events {
		fmt.Fprintf(w, "  %-7s actor %d %s\n", ev.Kind, ev.ActorID, ev.Class)
		if ev.Location != nil {
			fmt.Fprintf(w, "    location %+v\n", *ev.Location)
		}
		for _, u := range ev.Updates {
			fmt.Fprintf(w, "    %s = %+v\n", u.Field, u.Value)
		}
	}
}
