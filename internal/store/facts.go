package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"replay-ingest/internal/ingest"
	"replay-ingest/internal/match"
)

// Trail kinds stored in the trails table.
const (
	TrailPosition = "position"
	TrailResource = "resource"
)

// MatchExists implements ingest.FactStore.
func (s *Store) MatchExists(ctx context.Context, matchID string) (ingest.FileID, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT file_id FROM replays WHERE match_id = ?`, matchID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query match: %w", err)
	}
	return ingest.FileID(id), true, nil
}

// MatchIDs implements ingest.FactStore.
func (s *Store) MatchIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT match_id FROM replays`)
	if err != nil {
		return nil, fmt.Errorf("query match ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan match id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CommitHeader implements ingest.FactStore. The replay row, roster and goal
// list are written in one transaction.
func (s *Store) CommitHeader(ctx context.Context, id ingest.FileID, h *match.Header) error {
	headerJSON, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	now := time.Now().UTC().Format(TimeFormat)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		const insertReplay = `
		INSERT INTO replays
		(file_id, match_id, map, playlist, team_size, team_0_score, team_1_score, match_type,
		 server_name, recorded_at, num_frames, record_fps, header_json, committed_at, updated_at, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		var recorded any
		if !h.Timestamp.IsZero() {
			recorded = h.Timestamp.UTC().Format(TimeFormat)
		}
		if _, err := tx.ExecContext(ctx, insertReplay,
			string(id), h.MatchID, h.Map, h.Playlist, h.TeamSize, h.Team0Score, h.Team1Score,
			nullString(h.MatchType), nullString(h.ServerName), recorded, h.NumFrames, h.RecordFPS,
			string(headerJSON), now, now, CurrentSchemaVersion,
		); err != nil {
			return fmt.Errorf("insert replay: %w", err)
		}

		const insertPlayer = `
		INSERT INTO players
		(file_id, unique_id, name, team, score, goals, shots, assists, saves, platform, online_id, bot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		for _, p := range h.Players {
			if _, err := tx.ExecContext(ctx, insertPlayer,
				string(id), p.UniqueID, p.Name, p.Team, p.Score, p.Goals, p.Shots, p.Assists, p.Saves,
				nullString(p.Platform), nullString(p.OnlineID), boolInt(p.Bot),
			); err != nil {
				return fmt.Errorf("insert player %s: %w", p.UniqueID, err)
			}
		}

		const insertGoal = `INSERT INTO goals (file_id, number, player_id, frame) VALUES (?, ?, ?, ?)`
		for _, g := range h.Goals {
			if _, err := tx.ExecContext(ctx, insertGoal, string(id), g.Number, g.PlayerID, g.Frame); err != nil {
				return fmt.Errorf("insert goal %d: %w", g.Number, err)
			}
		}
		return nil
	})
}

// CommitTelemetry implements ingest.FactStore. Player enrichment, trails
// and goal confirmations are written in one transaction; header columns and
// roster stats are never updated here.
func (s *Store) CommitTelemetry(ctx context.Context, id ingest.FileID, tel *match.Telemetry) error {
	statsJSON, err := json.Marshal(tel.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	ticksJSON, err := json.Marshal(tel.TickMarks)
	if err != nil {
		return fmt.Errorf("marshal tick marks: %w", err)
	}
	now := time.Now().UTC().Format(TimeFormat)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		const markParsed = `
		UPDATE replays
		SET netstream_parsed = 1, netstream_failed = 0, failure_kind = NULL, failure_stage = NULL,
		    failure_message = NULL, stats_json = ?, tick_marks_json = ?, updated_at = ?
		WHERE file_id = ?
		`
		if err := execOne(ctx, tx, markParsed, string(statsJSON), string(ticksJSON), now, string(id)); err != nil {
			return fmt.Errorf("mark parsed: %w", err)
		}

		if err := clearTelemetry(ctx, tx, id); err != nil {
			return err
		}

		for _, p := range tel.Players {
			if err := enrichPlayer(ctx, tx, id, p); err != nil {
				return err
			}
		}

		const confirmGoal = `UPDATE goals SET confirmed = ?, observed_frame = ? WHERE file_id = ? AND number = ?`
		for _, g := range tel.Goals {
			if _, err := tx.ExecContext(ctx, confirmGoal, boolInt(g.Confirmed), g.ObservedFrame, string(id), g.Number); err != nil {
				return fmt.Errorf("confirm goal %d: %w", g.Number, err)
			}
		}
		return nil
	})
}

func enrichPlayer(ctx context.Context, tx *sql.Tx, id ingest.FileID, p match.PlayerTelemetry) error {
	cameraJSON, err := marshalOptional(p.Camera)
	if err != nil {
		return fmt.Errorf("marshal camera: %w", err)
	}
	loadoutJSON, err := marshalOptional(p.Loadout)
	if err != nil {
		return fmt.Errorf("marshal loadout: %w", err)
	}

	const update = `
	UPDATE players SET actor_id = ?, camera_json = ?, loadout_json = ?
	WHERE file_id = ? AND unique_id = ?
	`
	if err := execOne(ctx, tx, update, p.ActorID, cameraJSON, loadoutJSON, string(id), p.PlayerID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownPlayer, p.PlayerID)
		}
		return fmt.Errorf("enrich player %s: %w", p.PlayerID, err)
	}

	if err := insertTrail(ctx, tx, id, p.PlayerID, TrailPosition, len(p.Positions), p.Positions); err != nil {
		return err
	}
	return insertTrail(ctx, tx, id, p.PlayerID, TrailResource, len(p.Resource), p.Resource)
}

func insertTrail(ctx context.Context, tx *sql.Tx, id ingest.FileID, playerID, kind string, n int, samples any) error {
	if n == 0 {
		return nil
	}
	data, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("marshal %s trail: %w", kind, err)
	}
	const insert = `INSERT INTO trails (file_id, player_id, kind, samples, data_json) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, string(id), playerID, kind, n, string(data)); err != nil {
		return fmt.Errorf("insert %s trail: %w", kind, err)
	}
	return nil
}

// MarkNetstreamFailed implements ingest.FactStore. Telemetry from an earlier
// successful run is withdrawn along with the parsed flag; header facts stay.
func (s *Store) MarkNetstreamFailed(ctx context.Context, id ingest.FileID, cause match.FailureCause) error {
	now := time.Now().UTC().Format(TimeFormat)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		const query = `
		UPDATE replays
		SET netstream_parsed = 0, netstream_failed = 1, failure_kind = ?, failure_stage = ?, failure_message = ?,
		    stats_json = NULL, tick_marks_json = NULL, updated_at = ?
		WHERE file_id = ?
		`
		if err := execOne(ctx, tx, query, string(cause.Kind), cause.Stage, cause.Message, now, string(id)); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return clearTelemetry(ctx, tx, id)
	})
}

// clearTelemetry removes everything a netstream run writes for a file.
func clearTelemetry(ctx context.Context, tx *sql.Tx, id ingest.FileID) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM trails WHERE file_id = ?`, string(id)); err != nil {
		return fmt.Errorf("clear trails: %w", err)
	}
	const resetPlayers = `UPDATE players SET actor_id = NULL, camera_json = NULL, loadout_json = NULL WHERE file_id = ?`
	if _, err := tx.ExecContext(ctx, resetPlayers, string(id)); err != nil {
		return fmt.Errorf("reset players: %w", err)
	}
	const resetGoals = `UPDATE goals SET confirmed = NULL, observed_frame = NULL WHERE file_id = ?`
	if _, err := tx.ExecContext(ctx, resetGoals, string(id)); err != nil {
		return fmt.Errorf("reset goals: %w", err)
	}
	return nil
}

// DeleteFile implements ingest.FactStore. Deleting an unknown file is a no-op.
func (s *Store) DeleteFile(ctx context.Context, id ingest.FileID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM replays WHERE file_id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete replay: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execOne runs an UPDATE that must touch exactly one row.
func execOne(ctx context.Context, db execer, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalOptional[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
