package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/telephis/telephis/internal/baseline"
	"github.com/telephis/telephis/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS detections (
	id            TEXT PRIMARY KEY,
	message_id    TEXT,
	chat_id       TEXT,
	sender_id     TEXT,
	label         TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	stage         TEXT NOT NULL,
	action        TEXT NOT NULL,
	tokens_input  BIGINT NOT NULL DEFAULT 0,
	tokens_output BIGINT NOT NULL DEFAULT 0,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	trace         JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_daily (
	day           TEXT NOT NULL,
	stage         TEXT NOT NULL,
	requests      BIGINT NOT NULL DEFAULT 0,
	tokens_input  BIGINT NOT NULL DEFAULT 0,
	tokens_output BIGINT NOT NULL DEFAULT 0,
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (day, stage)
);

CREATE TABLE IF NOT EXISTS baselines (
	sender_id  TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_detections_label ON detections(label);
CREATE INDEX IF NOT EXISTS idx_detections_chat_id ON detections(chat_id);
CREATE INDEX IF NOT EXISTS idx_detections_sender_id ON detections(sender_id);
CREATE INDEX IF NOT EXISTS idx_detections_created_at ON detections(created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, result *model.DetectionResult) error {
	traceJSON, err := json.Marshal(result.Trace)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal trace")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO detections
		 (id, message_id, chat_id, sender_id, label, confidence, stage, action, tokens_input, tokens_output, duration_ms, trace, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		result.ID, result.MessageID, result.ChatID, result.SenderID,
		string(result.Label), result.Confidence, string(result.Stage), string(result.Action),
		result.Usage.Input, result.Usage.Output, result.DurationMS,
		traceJSON, result.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert detection")
}

func (s *PostgresStore) GetResult(ctx context.Context, id string) (*model.DetectionResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, message_id, chat_id, sender_id, label, confidence, stage, action, tokens_input, tokens_output, duration_ms, trace, created_at
		 FROM detections WHERE id = $1`,
		id,
	)
	r, err := scanDetectionPg(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get detection %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListResults(ctx context.Context, filter DetectionFilter) ([]model.DetectionResult, error) {
	query := `SELECT id, message_id, chat_id, sender_id, label, confidence, stage, action, tokens_input, tokens_output, duration_ms, trace, created_at
	          FROM detections WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Label != "" {
		query += fmt.Sprintf(` AND label = $%d`, argIdx)
		args = append(args, string(filter.Label))
		argIdx++
	}
	if filter.ChatID != "" {
		query += fmt.Sprintf(` AND chat_id = $%d`, argIdx)
		args = append(args, filter.ChatID)
		argIdx++
	}
	if filter.SenderID != "" {
		query += fmt.Sprintf(` AND sender_id = $%d`, argIdx)
		args = append(args, filter.SenderID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list detections")
	}
	defer rows.Close()

	var results []model.DetectionResult
	for rows.Next() {
		r, err := scanDetectionPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan detection")
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list detections iterate")
}

func (s *PostgresStore) RecordUsage(ctx context.Context, day time.Time, stage model.Stage, usage model.TokenUsage, costUSD float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_daily (day, stage, requests, tokens_input, tokens_output, cost_usd)
		 VALUES ($1, $2, 1, $3, $4, $5)
		 ON CONFLICT (day, stage) DO UPDATE SET
		   requests = usage_daily.requests + 1,
		   tokens_input = usage_daily.tokens_input + EXCLUDED.tokens_input,
		   tokens_output = usage_daily.tokens_output + EXCLUDED.tokens_output,
		   cost_usd = usage_daily.cost_usd + EXCLUDED.cost_usd`,
		day.UTC().Format(dayFormat), string(stage), usage.Input, usage.Output, costUSD,
	)
	return eris.Wrap(err, "postgres: record usage")
}

func (s *PostgresStore) UsageSince(ctx context.Context, since time.Time) ([]UsageStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT day, stage, requests, tokens_input, tokens_output, cost_usd
		 FROM usage_daily WHERE day >= $1 ORDER BY day, stage`,
		since.UTC().Format(dayFormat),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: usage since")
	}
	defer rows.Close()

	var stats []UsageStat
	for rows.Next() {
		var u UsageStat
		if err := rows.Scan(&u.Day, &u.Stage, &u.Requests, &u.TokensInput, &u.TokensOutput, &u.CostUSD); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage")
		}
		stats = append(stats, u)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: usage iterate")
}

func (s *PostgresStore) LoadBaseline(ctx context.Context, senderID string) (*baseline.Accumulator, error) {
	var stateJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM baselines WHERE sender_id = $1`,
		senderID,
	).Scan(&stateJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: load baseline %s", senderID)
	}

	var acc baseline.Accumulator
	if err := json.Unmarshal(stateJSON, &acc); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal baseline")
	}
	return &acc, nil
}

func (s *PostgresStore) SaveBaseline(ctx context.Context, acc *baseline.Accumulator) error {
	stateJSON, err := json.Marshal(acc)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal baseline")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO baselines (sender_id, state, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (sender_id) DO UPDATE SET state = $2, updated_at = $3`,
		acc.SenderID, stateJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save baseline %s", acc.SenderID)
}

func scanDetectionPg(row pgx.Row) (*model.DetectionResult, error) {
	var r model.DetectionResult
	var traceJSON []byte

	err := row.Scan(&r.ID, &r.MessageID, &r.ChatID, &r.SenderID,
		&r.Label, &r.Confidence, &r.Stage, &r.Action,
		&r.Usage.Input, &r.Usage.Output, &r.DurationMS,
		&traceJSON, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(traceJSON) > 0 {
		if err := json.Unmarshal(traceJSON, &r.Trace); err != nil {
			return nil, eris.Wrap(err, "unmarshal trace")
		}
	}
	return &r, nil
}
