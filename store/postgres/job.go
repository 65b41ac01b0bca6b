package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/sqlbuild"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/step"
)

const jobColumns = `
	id, template_id, transaction_id, environment_id, subscriber_id,
	type, step, status, payload, step_index, predecessor_id,
	available_at, queued_at, started_at, completed_at, last_error,
	created_at, updated_at`

const insertJobSQL = `
	INSERT INTO courier_jobs (` + jobColumns + `
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10, $11,
		$12, $13, $14, $15, $16,
		$17, $18
	)`

// InsertJobs persists a batch of new jobs in one transaction.
func (s *Store) InsertJobs(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("courier/postgres: begin insert: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	batch := &pgx.Batch{}
	for _, j := range jobs {
		batch.Queue(insertJobSQL,
			j.ID.String(), j.TemplateID.String(), j.TransactionID, j.EnvironmentID, j.SubscriberID,
			string(j.Type), j.Step, string(j.Status), j.Payload, j.StepIndex, j.PredecessorID.String(),
			j.AvailableAt, j.QueuedAt, j.StartedAt, j.CompletedAt, j.LastError,
			j.CreatedAt, j.UpdatedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range jobs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			if isDuplicateKey(err) {
				return courier.ErrJobAlreadyExists
			}
			return fmt.Errorf("courier/postgres: insert jobs: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("courier/postgres: insert jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("courier/postgres: commit insert: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM courier_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrJobNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get job: %w", err)
	}
	return j, nil
}

// FindOneJob returns the first matching job in chain order.
func (s *Store) FindOneJob(ctx context.Context, f job.Filter) (*job.Job, error) {
	f.Limit = 1
	jobs, err := s.FindJobs(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, courier.ErrJobNotFound
	}
	return jobs[0], nil
}

// FindJobs returns matching jobs ordered by subscriber then step index.
func (s *Store) FindJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	b := sqlbuild.New(sqlbuild.Dollar)
	b.JobFilter(f)
	query := `SELECT ` + jobColumns + ` FROM courier_jobs` + b.Where() +
		` ORDER BY subscriber_id, step_index, id` + sqlbuild.Limit(f.Limit)

	rows, err := s.pool.Query(ctx, query, b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: find jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of matching jobs.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	b := sqlbuild.New(sqlbuild.Dollar)
	b.JobFilter(f)

	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM courier_jobs`+b.Where(), b.Args()...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: count jobs: %w", err)
	}
	return count, nil
}

// CompareAndSetStatus applies t with a single conditional UPDATE.
func (s *Store) CompareAndSetStatus(ctx context.Context, jobID id.JobID, t job.Transition) (bool, error) {
	at := t.At.UTC()
	b := sqlbuild.New(sqlbuild.Dollar)
	set := "status = " + b.Arg(string(t.To)) + ", updated_at = " + b.Arg(at)
	if col := job.StampField(t.To); col != "" {
		set += ", " + col + " = " + b.Arg(at)
	}
	if t.Error != "" {
		set += ", last_error = " + b.Arg(t.Error)
	}
	b.Eq("id", jobID.String())
	b.Statuses("status", t.Sources())

	tag, err := s.pool.Exec(ctx, `UPDATE courier_jobs SET `+set+b.Where(), b.Args()...)
	if err != nil {
		return false, fmt.Errorf("courier/postgres: set job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM courier_jobs WHERE id = $1)`, jobID.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("courier/postgres: check job: %w", err)
	}
	if !exists {
		return false, courier.ErrJobNotFound
	}
	return false, nil
}

// ListReadyJobs returns queued jobs available at now in dequeue order.
func (s *Store) ListReadyJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM courier_jobs
		WHERE status = 'queued'
		  AND (available_at IS NULL OR available_at <= $1)
		ORDER BY queued_at ASC NULLS LAST, created_at, step_index, id`+sqlbuild.Limit(limit),
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list ready jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListDueJobs returns delayed jobs due at before, earliest first.
func (s *Store) ListDueJobs(ctx context.Context, before time.Time, limit int) ([]*job.Job, error) {
	b := sqlbuild.New(sqlbuild.Dollar)
	b.Cond("status = 'delayed'")
	if !before.IsZero() {
		b.Cond("available_at <= " + b.Arg(before.UTC()))
	}

	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM courier_jobs`+b.Where()+
		` ORDER BY available_at, id`+sqlbuild.Limit(limit), b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list due jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                      job.Job
		idStr, tplStr, predStr string
		typeStr, statusStr     string
	)
	err := row.Scan(
		&idStr, &tplStr, &j.TransactionID, &j.EnvironmentID, &j.SubscriberID,
		&typeStr, &j.Step, &statusStr, &j.Payload, &j.StepIndex, &predStr,
		&j.AvailableAt, &j.QueuedAt, &j.StartedAt, &j.CompletedAt, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = step.Type(typeStr)
	j.Status = job.Status(statusStr)

	if j.ID, err = parseID(idStr, id.PrefixJob); err != nil {
		return nil, err
	}
	if j.TemplateID, err = parseID(tplStr, id.PrefixTemplate); err != nil {
		return nil, err
	}
	if j.PredecessorID, err = parseID(predStr, id.PrefixJob); err != nil {
		return nil, err
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
