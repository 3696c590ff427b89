package jobs

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRecorder writes job executions to the job_runs table.
type PGRecorder struct {
	DB *pgxpool.Pool
}

func (r PGRecorder) Begin(ctx context.Context, jobType string) (string, error) {
	var id string
	err := r.DB.QueryRow(ctx, `
    INSERT INTO job_runs (job_type, status)
    VALUES ($1,$2)
    RETURNING id
  `, jobType, StatusRunning).Scan(&id)
	return id, err
}

func (r PGRecorder) Finish(ctx context.Context, id, status string, detailsJSON []byte) error {
	_, err := r.DB.Exec(ctx, `
    UPDATE job_runs
    SET status = $1, details_json = $2, completed_at = now()
    WHERE id = $3
  `, status, detailsJSON, id)
	return err
}
