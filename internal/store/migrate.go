package store

import (
	"context"
	"fmt"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	if err := s.createReplaysTable(ctx); err != nil {
		return err
	}
	if err := s.createPlayersTable(ctx); err != nil {
		return err
	}
	if err := s.createGoalsTable(ctx); err != nil {
		return err
	}
	return s.createTrailsTable(ctx)
}

func (s *Store) createReplaysTable(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS replays (
		file_id            TEXT PRIMARY KEY,
		match_id           TEXT NOT NULL,
		map                TEXT NOT NULL,
		playlist           INTEGER NOT NULL,
		team_size          INTEGER NOT NULL,
		team_0_score       INTEGER NOT NULL,
		team_1_score       INTEGER NOT NULL,
		match_type         TEXT,
		server_name        TEXT,
		recorded_at        TEXT,
		num_frames         INTEGER NOT NULL,
		record_fps         REAL NOT NULL,
		header_json        TEXT NOT NULL,
		netstream_parsed   INTEGER NOT NULL DEFAULT 0,
		netstream_failed   INTEGER NOT NULL DEFAULT 0,
		failure_kind       TEXT,
		failure_stage      TEXT,
		failure_message    TEXT,
		stats_json         TEXT,
		tick_marks_json    TEXT,
		committed_at       TEXT NOT NULL,
		updated_at         TEXT NOT NULL,
		schema_version     INTEGER NOT NULL,
		UNIQUE(match_id)
	);

	CREATE INDEX IF NOT EXISTS idx_replays_failed ON replays(netstream_failed);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create replays table: %w", err)
	}
	return nil
}

func (s *Store) createPlayersTable(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS players (
		file_id       TEXT NOT NULL REFERENCES replays(file_id) ON DELETE CASCADE,
		unique_id     TEXT NOT NULL,
		name          TEXT NOT NULL,
		team          INTEGER NOT NULL,
		score         INTEGER NOT NULL,
		goals         INTEGER NOT NULL,
		shots         INTEGER NOT NULL,
		assists       INTEGER NOT NULL,
		saves         INTEGER NOT NULL,
		platform      TEXT,
		online_id     TEXT,
		bot           INTEGER NOT NULL,
		actor_id      INTEGER,
		camera_json   TEXT,
		loadout_json  TEXT,
		PRIMARY KEY (file_id, unique_id)
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create players table: %w", err)
	}
	return nil
}

func (s *Store) createGoalsTable(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS goals (
		file_id         TEXT NOT NULL REFERENCES replays(file_id) ON DELETE CASCADE,
		number          INTEGER NOT NULL,
		player_id       TEXT NOT NULL,
		frame           INTEGER NOT NULL,
		confirmed       INTEGER,
		observed_frame  INTEGER,
		PRIMARY KEY (file_id, number),
		FOREIGN KEY (file_id, player_id) REFERENCES players(file_id, unique_id) ON DELETE CASCADE
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create goals table: %w", err)
	}
	return nil
}

func (s *Store) createTrailsTable(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trails (
		file_id     TEXT NOT NULL REFERENCES replays(file_id) ON DELETE CASCADE,
		player_id   TEXT NOT NULL,
		kind        TEXT NOT NULL,
		samples     INTEGER NOT NULL,
		data_json   TEXT NOT NULL,
		PRIMARY KEY (file_id, player_id, kind)
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create trails table: %w", err)
	}
	return nil
}
