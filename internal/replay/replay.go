// Package replay is the two-tier entry point to the decoder. DecodeHeader runs
// the cheap header tier and validates the file's framing; DecodeNetstream runs
// the expensive netstream tier against an already accepted header.
package replay

import (
	"errors"
	"io"
	"log/slog"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/match"
	"replay-ingest/internal/replay/bitstream"
	"replay-ingest/internal/replay/body"
	"replay-ingest/internal/replay/header"
	"replay-ingest/internal/replay/netstream"
	"replay-ingest/internal/replay/registry"
	"replay-ingest/internal/replay/telemetry"
)

// Options tune the netstream tier.
type Options struct {
	// GoalFrameTolerance is the goal confirmation window in frames. Zero uses
	// telemetry.DefaultGoalFrameTolerance.
	GoalFrameTolerance int
	Logger             *slog.Logger
}

// StageError attributes a netstream failure to the stage it occurred in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: decodeerr.WithTier(err, decodeerr.TierNetstream)}
}

// DecodeHeader runs the header tier over a complete replay file. Besides
// parsing and validating the header it checks that the body the file
// declares is fully present, so a truncated upload is rejected here.
func DecodeHeader(buf []byte) (*match.Header, error) {
	r := bitstream.NewReader(buf)
	h, err := header.Parse(r)
	if err != nil {
		return nil, decodeerr.WithTier(err, decodeerr.TierHeader)
	}
	if err := checkBodyFraming(r); err != nil {
		return nil, decodeerr.WithTier(err, decodeerr.TierHeader)
	}
	return h, nil
}

func checkBodyFraming(r *bitstream.Reader) error {
	size, err := r.ReadInt32()
	if err != nil {
		return err
	}
	if size < 0 {
		return decodeerr.New(decodeerr.KindMalformedStructure, "check body", r.Offset(), "body size %d", size)
	}
	if need := 32 + int64(size)*8; need > r.Remaining() {
		return decodeerr.New(decodeerr.KindUnexpectedEndOfStream, "check body", r.Offset(),
			"body declares %d bytes, %d available", size, r.Remaining()/8-4)
	}
	return nil
}

// DecodeNetstream runs the netstream tier. Failures are *StageError values
// wrapping a decode error; Cause turns them into a failure record.
func DecodeNetstream(buf []byte, h *match.Header, opts Options) (*match.Telemetry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bd, dec, err := openNetstream(buf, h)
	if err != nil {
		return nil, err
	}

	var aggOpts []telemetry.Option
	if opts.GoalFrameTolerance > 0 {
		aggOpts = append(aggOpts, telemetry.WithGoalFrameTolerance(opts.GoalFrameTolerance))
	}
	agg := telemetry.New(h, logger, aggOpts...)
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stageErr(match.StageDecode, err)
		}
		if f.Abandoned {
			logger.Debug("frame abandoned", "frame", f.Index, "reason", f.AbandonReason)
		}
		if err := agg.Apply(f.Index, f); err != nil {
			return nil, stageErr(match.StageTelemetry, err)
		}
	}

	tel := agg.Result()
	st := dec.Stats()
	tel.Stats.Frames = st.Frames
	tel.Stats.Events = st.Events
	tel.Stats.SkippedFields = st.SkippedFields
	tel.Stats.AbandonedFrames = st.AbandonedFrames
	for _, tm := range bd.TickMarks {
		tel.TickMarks = append(tel.TickMarks, match.TickMark{Type: tm.Type, Frame: int(tm.Frame)})
	}
	return tel, nil
}

// WalkFrames decodes the netstream and calls fn for every frame in order. It
// stops at the first error from the decoder or from fn.
func WalkFrames(buf []byte, h *match.Header, fn func(*netstream.Frame) error) (netstream.Stats, error) {
	_, dec, err := openNetstream(buf, h)
	if err != nil {
		return netstream.Stats{}, err
	}
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return dec.Stats(), nil
		}
		if err != nil {
			return dec.Stats(), stageErr(match.StageDecode, err)
		}
		if err := fn(f); err != nil {
			return dec.Stats(), err
		}
	}
}

func openNetstream(buf []byte, h *match.Header) (*body.Body, *netstream.Decoder, error) {
	r := bitstream.NewReader(buf)
	if _, err := header.ReadEnvelope(r); err != nil {
		return nil, nil, stageErr(match.StageFraming, err)
	}
	bd, err := body.Parse(r)
	if err != nil {
		return nil, nil, stageErr(match.StageFraming, err)
	}
	reg, err := registry.New(bd.Objects, bd.ClassIndex, bd.NetCache)
	if err != nil {
		return nil, nil, stageErr(match.StageSchema, err)
	}
	dec := netstream.New(bd.Netstream, reg, netstream.Options{Frames: h.NumFrames, MaxChannels: h.MaxChannels})
	return bd, dec, nil
}

// Cause describes a netstream tier failure for the fact store.
func Cause(err error) match.FailureCause {
	c := match.FailureCause{Kind: decodeerr.KindMalformedStructure, Stage: match.StageDecode, Message: err.Error()}
	if kind, ok := decodeerr.KindOf(err); ok {
		c.Kind = kind
	}
	var se *StageError
	if errors.As(err, &se) {
		c.Stage = se.Stage
	}
	if c.Kind == decodeerr.KindTimeout {
		c.Stage = match.StageBudget
	}
	return c
}
