package checkpoint

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore keeps checkpoints as JSONB rows, one per job.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, pings and ensures the checkpoint table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	slog.Info("connected to PostgreSQL checkpoint store", "component", "checkpoint")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, jobID string) (*Checkpoint, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM import_checkpoints WHERE job_id = $1`, jobID,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return Decode(body)
}

// Save upserts the whole record in one statement.
func (s *PostgresStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := ValidateJobID(cp.JobID); err != nil {
		return err
	}

	cp.UpdatedAt = time.Now().UTC()
	body, err := Encode(cp)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO import_checkpoints (job_id, version, body, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (job_id)
		DO UPDATE SET version = EXCLUDED.version, body = EXCLUDED.body, updated_at = NOW()
	`, cp.JobID, cp.Version, body)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM import_checkpoints WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT job_id FROM import_checkpoints ORDER BY job_id`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan checkpoints: %w", err)
	}
	return ids, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
