package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

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

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// InsertJobs persists a batch of new jobs in one transaction.
func (s *Store) InsertJobs(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("courier/sqlite: begin insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO courier_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("courier/sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, j := range jobs {
		stepJSON, err := json.Marshal(j.Step)
		if err != nil {
			return fmt.Errorf("courier/sqlite: encode step: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			j.ID.String(), j.TemplateID.String(), j.TransactionID, j.EnvironmentID, j.SubscriberID,
			string(j.Type), string(stepJSON), string(j.Status), j.Payload, j.StepIndex, j.PredecessorID.String(),
			formatNullTime(j.AvailableAt), formatNullTime(j.QueuedAt), formatNullTime(j.StartedAt),
			formatNullTime(j.CompletedAt), j.LastError,
			formatTime(j.CreatedAt), formatTime(j.UpdatedAt),
		)
		if err != nil {
			if isDuplicateKey(err) {
				return courier.ErrJobAlreadyExists
			}
			return fmt.Errorf("courier/sqlite: insert job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("courier/sqlite: commit insert: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM courier_jobs WHERE id = ?`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrJobNotFound
		}
		return nil, fmt.Errorf("courier/sqlite: get job: %w", err)
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
	b := sqlbuild.New(sqlbuild.Question)
	b.JobFilter(f)
	return s.queryJobs(ctx, "find jobs",
		`SELECT `+jobColumns+` FROM courier_jobs`+b.Where()+
			` ORDER BY subscriber_id, step_index, id`+sqlbuild.Limit(f.Limit),
		b.Args()...)
}

// CountJobs returns the number of matching jobs.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	b := sqlbuild.New(sqlbuild.Question)
	b.JobFilter(f)

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM courier_jobs`+b.Where(), b.Args()...).Scan(&count); err != nil {
		return 0, fmt.Errorf("courier/sqlite: count jobs: %w", err)
	}
	return count, nil
}

// CompareAndSetStatus applies t with a single conditional UPDATE.
func (s *Store) CompareAndSetStatus(ctx context.Context, jobID id.JobID, t job.Transition) (bool, error) {
	at := formatTime(t.At)
	b := sqlbuild.New(sqlbuild.Question)
	set := "status = " + b.Arg(string(t.To)) + ", updated_at = " + b.Arg(at)
	if col := job.StampField(t.To); col != "" {
		set += ", " + col + " = " + b.Arg(at)
	}
	if t.Error != "" {
		set += ", last_error = " + b.Arg(t.Error)
	}
	b.Eq("id", jobID.String())
	b.Statuses("status", t.Sources())

	res, err := s.db.ExecContext(ctx, `UPDATE courier_jobs SET `+set+b.Where(), b.Args()...)
	if err != nil {
		return false, fmt.Errorf("courier/sqlite: set job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("courier/sqlite: set job status: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM courier_jobs WHERE id = ?`, jobID.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("courier/sqlite: check job: %w", err)
	}
	if exists == 0 {
		return false, courier.ErrJobNotFound
	}
	return false, nil
}

// ListReadyJobs returns queued jobs available at now in dequeue order.
func (s *Store) ListReadyJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	return s.queryJobs(ctx, "list ready jobs", `
		SELECT `+jobColumns+`
		FROM courier_jobs
		WHERE status = 'queued'
		  AND (available_at IS NULL OR available_at <= ?)
		ORDER BY queued_at IS NULL, queued_at, created_at, step_index, id`+sqlbuild.Limit(limit),
		formatTime(now))
}

// ListDueJobs returns delayed jobs due at before, earliest first.
func (s *Store) ListDueJobs(ctx context.Context, before time.Time, limit int) ([]*job.Job, error) {
	b := sqlbuild.New(sqlbuild.Question)
	b.Cond("status = 'delayed'")
	if !before.IsZero() {
		b.Cond("available_at <= " + b.Arg(formatTime(before)))
	}
	return s.queryJobs(ctx, "list due jobs",
		`SELECT `+jobColumns+` FROM courier_jobs`+b.Where()+` ORDER BY available_at, id`+sqlbuild.Limit(limit),
		b.Args()...)
}

func (s *Store) queryJobs(ctx context.Context, op, query string, args ...any) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("courier/sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/sqlite: %s: scan: %w", op, err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/sqlite: %s: iterate: %w", op, err)
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j                            job.Job
		idStr, tplStr, predStr       string
		typeStr, statusStr, stepJSON string
		createdAt, updatedAt         string
		availableAt, queuedAt        sql.NullString
		startedAt, completedAt       sql.NullString
	)
	err := row.Scan(
		&idStr, &tplStr, &j.TransactionID, &j.EnvironmentID, &j.SubscriberID,
		&typeStr, &stepJSON, &statusStr, &j.Payload, &j.StepIndex, &predStr,
		&availableAt, &queuedAt, &startedAt, &completedAt, &j.LastError,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = step.Type(typeStr)
	j.Status = job.Status(statusStr)
	if err := json.Unmarshal([]byte(stepJSON), &j.Step); err != nil {
		return nil, fmt.Errorf("courier/sqlite: decode step: %w", err)
	}

	if j.ID, err = parseID(idStr, id.PrefixJob); err != nil {
		return nil, err
	}
	if j.TemplateID, err = parseID(tplStr, id.PrefixTemplate); err != nil {
		return nil, err
	}
	if j.PredecessorID, err = parseID(predStr, id.PrefixJob); err != nil {
		return nil, err
	}

	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&j.AvailableAt, availableAt},
		{&j.QueuedAt, queuedAt},
		{&j.StartedAt, startedAt},
		{&j.CompletedAt, completedAt},
	} {
		if *f.dst, err = parseNullTime(f.src); err != nil {
			return nil, err
		}
	}

	return &j, nil
}
