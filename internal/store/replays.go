package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/ingest"
	"replay-ingest/internal/match"
)

// Replay is a stored replay as committed by both tiers.
type Replay struct {
	FileID          ingest.FileID
	Header          match.Header
	NetstreamParsed bool
	NetstreamFailed bool
	Cause           *match.FailureCause
	Stats           *match.DecodeStats
	TickMarks       []match.TickMark
	CommittedAt     string
	UpdatedAt       string
}

// GoalRow is a stored goal with its confirmation state. Confirmed is nil
// until the netstream tier has run.
type GoalRow struct {
	Number        int
	PlayerID      string
	Frame         int
	Confirmed     *bool
	ObservedFrame *int
}

// GetReplay returns the replay stored under id.
func (s *Store) GetReplay(ctx context.Context, id ingest.FileID) (*Replay, error) {
	const query = `
	SELECT header_json, netstream_parsed, netstream_failed, failure_kind, failure_stage, failure_message,
	       stats_json, tick_marks_json, committed_at, updated_at
	FROM replays WHERE file_id = ?
	`
	var (
		headerJSON             string
		parsed, failed         int
		kind, stage, message   sql.NullString
		statsJSON, ticksJSON   sql.NullString
		committedAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, query, string(id)).Scan(
		&headerJSON, &parsed, &failed, &kind, &stage, &message, &statsJSON, &ticksJSON, &committedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query replay: %w", err)
	}

	r := &Replay{
		FileID:          id,
		NetstreamParsed: parsed == 1,
		NetstreamFailed: failed == 1,
		CommittedAt:     committedAt,
		UpdatedAt:       updatedAt,
	}
	if err := json.Unmarshal([]byte(headerJSON), &r.Header); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}
	if r.NetstreamFailed {
		r.Cause = &match.FailureCause{Kind: decodeerr.Kind(kind.String), Stage: stage.String, Message: message.String}
	}
	if statsJSON.Valid {
		r.Stats = &match.DecodeStats{}
		if err := json.Unmarshal([]byte(statsJSON.String), r.Stats); err != nil {
			return nil, fmt.Errorf("unmarshal stats: %w", err)
		}
	}
	if ticksJSON.Valid {
		if err := json.Unmarshal([]byte(ticksJSON.String), &r.TickMarks); err != nil {
			return nil, fmt.Errorf("unmarshal tick marks: %w", err)
		}
	}
	return r, nil
}

// Goals returns the goals of a replay in order.
func (s *Store) Goals(ctx context.Context, id ingest.FileID) ([]GoalRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number, player_id, frame, confirmed, observed_frame FROM goals WHERE file_id = ? ORDER BY number`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("query goals: %w", err)
	}
	defer rows.Close()

	var goals []GoalRow
	for rows.Next() {
		var (
			g         GoalRow
			confirmed sql.NullInt64
			observed  sql.NullInt64
		)
		if err := rows.Scan(&g.Number, &g.PlayerID, &g.Frame, &confirmed, &observed); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		if confirmed.Valid {
			c := confirmed.Int64 == 1
			g.Confirmed = &c
		}
		if observed.Valid {
			o := int(observed.Int64)
			g.ObservedFrame = &o
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// PositionTrail returns a player's position samples.
func (s *Store) PositionTrail(ctx context.Context, id ingest.FileID, playerID string) ([]match.PositionSample, error) {
	var out []match.PositionSample
	if err := s.trail(ctx, id, playerID, TrailPosition, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResourceTrail returns a player's resource gauge samples.
func (s *Store) ResourceTrail(ctx context.Context, id ingest.FileID, playerID string) ([]match.ResourceSample, error) {
	var out []match.ResourceSample
	if err := s.trail(ctx, id, playerID, TrailResource, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) trail(ctx context.Context, id ingest.FileID, playerID, kind string, dst any) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data_json FROM trails WHERE file_id = ? AND player_id = ? AND kind = ?`,
		string(id), playerID, kind).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query %s trail: %w", kind, err)
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("unmarshal %s trail: %w", kind, err)
	}
	return nil
}

// PlayerConfig returns the camera and loadout stored for a player.
func (s *Store) PlayerConfig(ctx context.Context, id ingest.FileID, playerID string) (*match.CameraSettings, *match.Loadout, error) {
	var cameraJSON, loadoutJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT camera_json, loadout_json FROM players WHERE file_id = ? AND unique_id = ?`,
		string(id), playerID).Scan(&cameraJSON, &loadoutJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query player: %w", err)
	}

	var cam *match.CameraSettings
	if cameraJSON.Valid {
		cam = &match.CameraSettings{}
		if err := json.Unmarshal([]byte(cameraJSON.String), cam); err != nil {
			return nil, nil, fmt.Errorf("unmarshal camera: %w", err)
		}
	}
	var loadout *match.Loadout
	if loadoutJSON.Valid {
		loadout = &match.Loadout{}
		if err := json.Unmarshal([]byte(loadoutJSON.String), loadout); err != nil {
			return nil, nil, fmt.Errorf("unmarshal loadout: %w", err)
		}
	}
	return cam, loadout, nil
}
