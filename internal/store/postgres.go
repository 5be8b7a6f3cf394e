package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const jobColumns = `id, status, stage, created_at, completed_at, input_count, sequences_processed,
	execution_handle, result_location, error_message, expires_at`

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) PutJob(ctx context.Context, job *models.JobRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_jobs (`+jobColumns+`, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   stage = EXCLUDED.stage,
		   created_at = EXCLUDED.created_at,
		   completed_at = EXCLUDED.completed_at,
		   input_count = EXCLUDED.input_count,
		   sequences_processed = EXCLUDED.sequences_processed,
		   execution_handle = EXCLUDED.execution_handle,
		   result_location = EXCLUDED.result_location,
		   error_message = EXCLUDED.error_message,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = NOW()`,
		job.ID, job.Status, job.Stage, job.CreatedAt, job.CompletedAt, job.InputCount,
		job.SequencesProcessed, job.ExecutionHandle, job.ResultLocation, job.ErrorMessage, job.ExpiresAt)
	if err != nil {
		return unavailable("put job", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.JobRecord, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM pipeline_jobs WHERE id = $1 AND expires_at > NOW()`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get job", err)
	}
	return job, nil
}

// UpdateJob locks the row, applies the options in Go and writes the result back
// inside one transaction.
func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) (*models.JobRecord, error) {
	params := newUpdateParams(opts)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin update", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM pipeline_jobs WHERE id = $1 AND expires_at > NOW() FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get job for update", err)
	}

	if err := params.apply(job); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE pipeline_jobs SET
		   status = $2, stage = $3, completed_at = $4, sequences_processed = $5,
		   execution_handle = $6, result_location = $7, error_message = $8, updated_at = NOW()
		 WHERE id = $1`,
		job.ID, job.Status, job.Stage, job.CompletedAt, job.SequencesProcessed,
		job.ExecutionHandle, job.ResultLocation, job.ErrorMessage)
	if err != nil {
		return nil, unavailable("update job", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit update", err)
	}
	return job, nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pipeline_jobs WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, unavailable("purge expired jobs", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanJob(row pgx.Row) (*models.JobRecord, error) {
	var j models.JobRecord
	err := row.Scan(&j.ID, &j.Status, &j.Stage, &j.CreatedAt, &j.CompletedAt, &j.InputCount,
		&j.SequencesProcessed, &j.ExecutionHandle, &j.ResultLocation, &j.ErrorMessage, &j.ExpiresAt)
	if err != nil {
		return nil, err
	}
	j.CreatedAt = j.CreatedAt.UTC()
	j.ExpiresAt = j.ExpiresAt.UTC()
	if j.CompletedAt != nil {
		t := j.CompletedAt.UTC()
		j.CompletedAt = &t
	}
	return &j, nil
}

var _ Store = (*PostgresStore)(nil)
