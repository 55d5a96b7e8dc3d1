package correlate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/solventry/paysdk/internal/config"
	"github.com/solventry/paysdk/internal/rail"
)

const createPendingRequestsTable = `
CREATE TABLE IF NOT EXISTS pending_requests (
	rail       TEXT PRIMARY KEY,
	token      TEXT NOT NULL,
	context    JSONB NOT NULL DEFAULT '{}'::jsonb,
	issued_at  TIMESTAMPTZ NOT NULL
)`

// PGStore is a durable Store backed by Postgres, for embedders that need
// out-of-process round trips to survive a process restart.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPGStore(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*PGStore, error) {
	pgxCfg, err := cfg.PgxConfig(ctx)
	if err != nil {
		logger.Error("failed to build pgx config", "error", err)
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		logger.Error("failed to create connection pool", "error", err)
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createPendingRequestsTable); err != nil {
		logger.Error("failed to create pending_requests table", "error", err)
		pool.Close()
		return nil, err
	}

	return &PGStore{pool: pool, logger: logger}, nil
}

func (s *PGStore) Put(ctx context.Context, e Entry) error {
	reqContext, err := json.Marshal(e.Context)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pending_requests (rail, token, context, issued_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (rail) DO UPDATE
		SET token = EXCLUDED.token,
		    context = EXCLUDED.context,
		    issued_at = EXCLUDED.issued_at`,
		string(e.Rail), e.Token, reqContext, e.IssuedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, r rail.Rail) (*Entry, error) {
	var (
		entry      Entry
		railName   string
		reqContext []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT rail, token, context, issued_at
		FROM pending_requests
		WHERE rail = $1`,
		string(r),
	).Scan(&railName, &entry.Token, &reqContext, &entry.IssuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry.Rail = rail.Rail(railName)
	if err := json.Unmarshal(reqContext, &entry.Context); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *PGStore) Delete(ctx context.Context, r rail.Rail) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM pending_requests WHERE rail = $1`, string(r))
	return err
}

func (s *PGStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pending_requests WHERE issued_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}
