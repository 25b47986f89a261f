package ingest

import (
	"context"
	"errors"
	"fmt"

	"replay-ingest/internal/match"
)

// FactStore is where decoded facts are committed. Every commit is atomic:
// either all of a tier's facts are written or none are.
type FactStore interface {
	// MatchExists returns the file holding matchID, if any.
	MatchExists(ctx context.Context, matchID string) (FileID, bool, error)

	// MatchIDs lists every match id the store holds.
	MatchIDs(ctx context.Context) ([]string, error)

	// CommitHeader writes header facts, the roster and the goal list.
	CommitHeader(ctx context.Context, id FileID, h *match.Header) error

	// CommitTelemetry writes netstream facts and clears any failure flag.
	// Header facts are not touched.
	CommitTelemetry(ctx context.Context, id FileID, tel *match.Telemetry) error

	// MarkNetstreamFailed sets the failure flag and cause. Header facts are
	// not touched.
	MarkNetstreamFailed(ctx context.Context, id FileID, cause match.FailureCause) error

	// DeleteFile removes every fact recorded for the file.
	DeleteFile(ctx context.Context, id FileID) error
}

// ErrDuplicateMatch is matched by errors.Is for a *DuplicateMatchError.
var ErrDuplicateMatch = errors.New("duplicate match")

// DuplicateMatchError rejects an upload whose match id is already held by
// another file.
type DuplicateMatchError struct {
	MatchID  string
	Existing FileID
}

func (e *DuplicateMatchError) Error() string {
	return fmt.Sprintf("match %s was already uploaded as %s", e.MatchID, e.Existing)
}

// Is reports whether target is ErrDuplicateMatch.
func (e *DuplicateMatchError) Is(target error) bool {
	return target == ErrDuplicateMatch
}
