package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/telephis/telephis/internal/baseline"
	"github.com/telephis/telephis/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS detections (
	id            TEXT PRIMARY KEY,
	message_id    TEXT,
	chat_id       TEXT,
	sender_id     TEXT,
	label         TEXT NOT NULL,
	confidence    REAL NOT NULL,
	stage         TEXT NOT NULL,
	action        TEXT NOT NULL,
	tokens_input  INTEGER NOT NULL DEFAULT 0,
	tokens_output INTEGER NOT NULL DEFAULT 0,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	trace         TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS usage_daily (
	day           TEXT NOT NULL,
	stage         TEXT NOT NULL,
	requests      INTEGER NOT NULL DEFAULT 0,
	tokens_input  INTEGER NOT NULL DEFAULT 0,
	tokens_output INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (day, stage)
);

CREATE TABLE IF NOT EXISTS baselines (
	sender_id  TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_detections_label ON detections(label);
CREATE INDEX IF NOT EXISTS idx_detections_chat_id ON detections(chat_id);
CREATE INDEX IF NOT EXISTS idx_detections_sender_id ON detections(sender_id);
CREATE INDEX IF NOT EXISTS idx_detections_created_at ON detections(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveResult(ctx context.Context, result *model.DetectionResult) error {
	traceJSON, err := json.Marshal(result.Trace)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal trace")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO detections
		 (id, message_id, chat_id, sender_id, label, confidence, stage, action, tokens_input, tokens_output, duration_ms, trace, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.MessageID, result.ChatID, result.SenderID,
		string(result.Label), result.Confidence, string(result.Stage), string(result.Action),
		result.Usage.Input, result.Usage.Output, result.DurationMS,
		string(traceJSON), result.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert detection")
}

func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*model.DetectionResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, chat_id, sender_id, label, confidence, stage, action, tokens_input, tokens_output, duration_ms, trace, created_at
		 FROM detections WHERE id = ?`,
		id,
	)
	return scanDetection(row)
}

func (s *SQLiteStore) ListResults(ctx context.Context, filter DetectionFilter) ([]model.DetectionResult, error) {
	query := `SELECT id, message_id, chat_id, sender_id, label, confidence, stage, action, tokens_input, tokens_output, duration_ms, trace, created_at
	          FROM detections WHERE 1=1`
	var args []any

	if filter.Label != "" {
		query += ` AND label = ?`
		args = append(args, string(filter.Label))
	}
	if filter.ChatID != "" {
		query += ` AND chat_id = ?`
		args = append(args, filter.ChatID)
	}
	if filter.SenderID != "" {
		query += ` AND sender_id = ?`
		args = append(args, filter.SenderID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list detections")
	}
	defer rows.Close()

	var results []model.DetectionResult
	for rows.Next() {
		r, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list detections iterate")
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, day time.Time, stage model.Stage, usage model.TokenUsage, costUSD float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_daily (day, stage, requests, tokens_input, tokens_output, cost_usd)
		 VALUES (?, ?, 1, ?, ?, ?)
		 ON CONFLICT (day, stage) DO UPDATE SET
		   requests = requests + 1,
		   tokens_input = tokens_input + excluded.tokens_input,
		   tokens_output = tokens_output + excluded.tokens_output,
		   cost_usd = cost_usd + excluded.cost_usd`,
		day.UTC().Format(dayFormat), string(stage), usage.Input, usage.Output, costUSD,
	)
	return eris.Wrap(err, "sqlite: record usage")
}

func (s *SQLiteStore) UsageSince(ctx context.Context, since time.Time) ([]UsageStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, stage, requests, tokens_input, tokens_output, cost_usd
		 FROM usage_daily WHERE day >= ? ORDER BY day, stage`,
		since.UTC().Format(dayFormat),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: usage since")
	}
	defer rows.Close()

	var stats []UsageStat
	for rows.Next() {
		var u UsageStat
		if err := rows.Scan(&u.Day, &u.Stage, &u.Requests, &u.TokensInput, &u.TokensOutput, &u.CostUSD); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage")
		}
		stats = append(stats, u)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: usage iterate")
}

func (s *SQLiteStore) LoadBaseline(ctx context.Context, senderID string) (*baseline.Accumulator, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM baselines WHERE sender_id = ?`,
		senderID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load baseline %s", senderID)
	}

	var acc baseline.Accumulator
	if err := json.Unmarshal([]byte(stateJSON), &acc); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal baseline")
	}
	return &acc, nil
}

func (s *SQLiteStore) SaveBaseline(ctx context.Context, acc *baseline.Accumulator) error {
	stateJSON, err := json.Marshal(acc)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal baseline")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO baselines (sender_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (sender_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		acc.SenderID, string(stateJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save baseline %s", acc.SenderID)
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanDetection(row scannable) (*model.DetectionResult, error) {
	var r model.DetectionResult
	var traceJSON sql.NullString

	err := row.Scan(&r.ID, &r.MessageID, &r.ChatID, &r.SenderID,
		&r.Label, &r.Confidence, &r.Stage, &r.Action,
		&r.Usage.Input, &r.Usage.Output, &r.DurationMS,
		&traceJSON, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("detection not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan detection")
	}

	if traceJSON.Valid && traceJSON.String != "" {
		if err := json.Unmarshal([]byte(traceJSON.String), &r.Trace); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal trace")
		}
	}
	return &r, nil
}
