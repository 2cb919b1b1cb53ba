package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/smsleopard-delivery/internal/model"
)

// QueueJobRepositoryInterface backs the fallback job queue.
type QueueJobRepositoryInterface interface {
	Insert(ctx context.Context, j *model.QueueJob) (bool, error)
	ListClaimable(ctx context.Context, queueName string, now time.Time, limit int) ([]*model.QueueJob, error)
	Claim(ctx context.Context, id int) (bool, error)
	Touch(ctx context.Context, id int) (bool, error)
	Complete(ctx context.Context, id int) error
	Retry(ctx context.Context, id int, lastError string, at time.Time) error
	Fail(ctx context.Context, id int, lastError string) error
	ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error)
	CountByState(ctx context.Context) (map[string]map[string]int, error)
	Prune(ctx context.Context, queueName, state string, keep int) (int64, error)
}

type QueueJobRepository struct {
	DB *sql.DB
}

const queueJobColumns = `id, queue_name, job_id, job_name, payload, state, attempts, max_attempts,
        last_error, scheduled_for, created_at, updated_at, finished_at`

// Insert adds a waiting job. A job id already present in the queue is not
// added twice; false is returned in that case.
func (r *QueueJobRepository) Insert(ctx context.Context, j *model.QueueJob) (bool, error) {
	if j.State == "" {
		j.State = model.JobWaiting
	}
	err := r.DB.QueryRowContext(ctx, `
        INSERT INTO queue_jobs (queue_name, job_id, job_name, payload, state, max_attempts, scheduled_for)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (queue_name, job_id) DO NOTHING
        RETURNING id, created_at`,
		j.QueueName, j.JobID, j.JobName, string(j.Payload), j.State, j.MaxAttempts, j.ScheduledFor,
	).Scan(&j.ID, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *QueueJobRepository) ListClaimable(ctx context.Context, queueName string, now time.Time, limit int) ([]*model.QueueJob, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+queueJobColumns+`
        FROM queue_jobs
        WHERE queue_name=$1 AND state='waiting' AND scheduled_for <= $2
        ORDER BY scheduled_for ASC, id ASC
        LIMIT $3`, queueName, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*model.QueueJob{}
	for rows.Next() {
		var j model.QueueJob
		var payload []byte
		if err := rows.Scan(&j.ID, &j.QueueName, &j.JobID, &j.JobName, &payload, &j.State, &j.Attempts, &j.MaxAttempts,
			&j.LastError, &j.ScheduledFor, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt); err != nil {
			return nil, err
		}
		j.Payload = payload
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// Claim moves a job from waiting to active. Exactly one concurrent caller
// gets true for a given waiting row.
func (r *QueueJobRepository) Claim(ctx context.Context, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE queue_jobs SET state='active', attempts=attempts+1, updated_at=NOW()
        WHERE id=$1 AND state='waiting'`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Touch renews the lease of an active job. False means the row is no longer
// active, usually because it was reclaimed.
func (r *QueueJobRepository) Touch(ctx context.Context, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE queue_jobs SET updated_at=NOW() WHERE id=$1 AND state='active'`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *QueueJobRepository) Complete(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE queue_jobs SET state='completed', last_error='', finished_at=NOW(), updated_at=NOW()
        WHERE id=$1 AND state='active'`, id)
	return err
}

func (r *QueueJobRepository) Retry(ctx context.Context, id int, lastError string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE queue_jobs SET state='waiting', last_error=$1, scheduled_for=$2, updated_at=NOW()
        WHERE id=$3 AND state='active'`, lastError, at, id)
	return err
}

func (r *QueueJobRepository) Fail(ctx context.Context, id int, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE queue_jobs SET state='failed', last_error=$1, finished_at=NOW(), updated_at=NOW()
        WHERE id=$2 AND state='active'`, lastError, id)
	return err
}

// ReclaimStale puts back jobs left active by a worker that died mid-job.
func (r *QueueJobRepository) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE queue_jobs SET state='waiting', last_error='reclaimed after stale lease', updated_at=NOW()
        WHERE state='active' AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByState returns queue name -> state -> count.
func (r *QueueJobRepository) CountByState(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT queue_name, state, COUNT(*) FROM queue_jobs GROUP BY queue_name, state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]map[string]int{}
	for rows.Next() {
		var queueName, state string
		var count int
		if err := rows.Scan(&queueName, &state, &count); err != nil {
			return nil, err
		}
		if stats[queueName] == nil {
			stats[queueName] = map[string]int{}
		}
		stats[queueName][state] = count
	}
	return stats, rows.Err()
}

// Prune keeps the newest keep finished jobs of a queue in the given state.
func (r *QueueJobRepository) Prune(ctx context.Context, queueName, state string, keep int) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
        DELETE FROM queue_jobs
        WHERE queue_name=$1 AND state=$2 AND id NOT IN (
            SELECT id FROM queue_jobs
            WHERE queue_name=$1 AND state=$2
            ORDER BY finished_at DESC NULLS LAST, id DESC
            LIMIT $3
        )`, queueName, state, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ QueueJobRepositoryInterface = (*QueueJobRepository)(nil)
