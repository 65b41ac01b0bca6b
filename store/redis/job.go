package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/step"
)

// readyPage is how many queued IDs ListReadyJobs inspects per round trip.
const readyPage = 100

// InsertJobs reserves every job's ID and fingerprint in one script, then
// writes the hashes and indexes in a transaction pipeline.
func (s *Store) InsertJobs(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	n := len(jobs)
	keys := make([]string, 2*n)
	ids := make([]any, n)
	seen := make(map[string]struct{}, 2*n)
	for i, j := range jobs {
		jID := j.ID.String()
		keys[i] = jobKey(jID)
		keys[n+i] = fingerprintKey(j)
		ids[i] = jID
		for _, k := range []string{keys[i], keys[n+i]} {
			if _, dup := seen[k]; dup {
				return courier.ErrJobAlreadyExists
			}
			seen[k] = struct{}{}
		}
	}

	// Encode before reserving so a bad job cannot strand a reservation.
	hashes := make([]map[string]any, n)
	for i, j := range jobs {
		fields, err := jobToMap(j)
		if err != nil {
			return err
		}
		hashes[i] = fields
	}

	ok, err := reserveScript.Run(ctx, s.client, keys, ids...).Int()
	if err != nil {
		return fmt.Errorf("courier/redis: reserve jobs: %w", err)
	}
	if ok == 0 {
		return courier.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	for i, j := range jobs {
		jID := j.ID.String()
		pipe.HSet(ctx, jobKey(jID), hashes[i])
		pipe.SAdd(ctx, jobIDsKey, jID)
		pipe.SAdd(ctx, transactionKey(j.TransactionID), jID)
		if !j.PredecessorID.IsNil() {
			pipe.SAdd(ctx, successorKey(j.PredecessorID.String()), jID)
		}
		switch {
		case j.Status == job.StatusQueued && j.QueuedAt != nil:
			pipe.ZAdd(ctx, queuedKey, goredis.Z{Score: micros(*j.QueuedAt), Member: jID})
		case j.Status == job.StatusDelayed && j.AvailableAt != nil:
			pipe.ZAdd(ctx, delayedKey, goredis.Z{Score: micros(*j.AvailableAt), Member: jID})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		if relErr := s.release(context.WithoutCancel(ctx), jobs, keys); relErr != nil {
			s.logger.Error("release reserved jobs",
				slog.String("transaction_id", jobs[0].TransactionID),
				slog.String("error", relErr.Error()),
			)
		}
		return fmt.Errorf("courier/redis: insert jobs: %w", err)
	}
	return nil
}

// release undoes a reservation whose write failed: it drops the fingerprint
// keys and anything of the batch that did reach the server.
func (s *Store) release(ctx context.Context, jobs []*job.Job, keys []string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	for _, j := range jobs {
		jID := j.ID.String()
		pipe.SRem(ctx, jobIDsKey, jID)
		pipe.SRem(ctx, transactionKey(j.TransactionID), jID)
		if !j.PredecessorID.IsNil() {
			pipe.SRem(ctx, successorKey(j.PredecessorID.String()), jID)
		}
		pipe.ZRem(ctx, queuedKey, jID)
		pipe.ZRem(ctx, delayedKey, jID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, courier.ErrJobNotFound
	}
	return mapToJob(vals)
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

// FindJobs loads candidates from the narrowest index the filter allows and
// filters them in process.
func (s *Store) FindJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	jobs, err := s.matchJobs(ctx, f)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(jobs, job.CompareChain)
	if f.Limit > 0 && len(jobs) > f.Limit {
		jobs = jobs[:f.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of matching jobs.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	jobs, err := s.matchJobs(ctx, f)
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// CompareAndSetStatus applies t atomically through casScript.
func (s *Store) CompareAndSetStatus(ctx context.Context, jobID id.JobID, t job.Transition) (bool, error) {
	jID := jobID.String()
	at := t.At.UTC()
	args := []any{
		string(t.To), at.Format(time.RFC3339Nano), strconv.FormatInt(at.UnixMicro(), 10),
		job.StampField(t.To), t.Error, jID,
	}
	for _, from := range t.Sources() {
		args = append(args, string(from))
	}

	res, err := casScript.Run(ctx, s.client, []string{jobKey(jID), queuedKey, delayedKey}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("courier/redis: set job status: %w", err)
	}
	switch res {
	case 1:
		return true, nil
	case -1:
		return false, courier.ErrJobNotFound
	default:
		return false, nil
	}
}

// ListReadyJobs walks the queued set in queued_at order, skipping jobs whose
// AvailableAt is still in the future.
func (s *Store) ListReadyJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	var ready []*job.Job
	for start := int64(0); ; start += readyPage {
		ids, err := s.client.ZRange(ctx, queuedKey, start, start+readyPage-1).Result()
		if err != nil {
			return nil, fmt.Errorf("courier/redis: list ready jobs: %w", err)
		}
		jobs, err := s.loadJobs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			if j.Ready(now) {
				ready = append(ready, j)
			}
		}
		if len(ids) < readyPage || (limit > 0 && len(ready) >= limit) {
			break
		}
	}

	slices.SortFunc(ready, job.CompareReady)
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

// ListDueJobs returns delayed jobs due at before, earliest first.
func (s *Store) ListDueJobs(ctx context.Context, before time.Time, limit int) ([]*job.Job, error) {
	upper := "+inf"
	if !before.IsZero() {
		upper = strconv.FormatInt(before.UTC().UnixMicro(), 10)
	}
	ids, err := s.client.ZRangeByScore(ctx, delayedKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   upper,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list due jobs: %w", err)
	}

	jobs, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	due := jobs[:0]
	for _, j := range jobs {
		if j.Status == job.StatusDelayed {
			due = append(due, j)
		}
	}
	slices.SortFunc(due, job.CompareDue)
	return due, nil
}

func (s *Store) matchJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	var (
		ids []string
		err error
	)
	switch {
	case len(f.IDs) > 0:
		for _, v := range f.IDs {
			ids = append(ids, v.String())
		}
	case f.TransactionID != "":
		ids, err = s.client.SMembers(ctx, transactionKey(f.TransactionID)).Result()
	case !f.PredecessorID.IsNil():
		ids, err = s.client.SMembers(ctx, successorKey(f.PredecessorID.String())).Result()
	default:
		ids, err = s.client.SMembers(ctx, jobIDsKey).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("courier/redis: scan job index: %w", err)
	}

	jobs, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	matched := jobs[:0]
	for _, j := range jobs {
		if f.Match(j) {
			matched = append(matched, j)
		}
	}
	return matched, nil
}

// loadJobs fetches the hashes of ids in one pipeline, skipping missing keys.
func (s *Store) loadJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(jID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("courier/redis: load jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		j, err := mapToJob(vals)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func micros(t time.Time) float64 { return float64(t.UTC().UnixMicro()) }

func jobToMap(j *job.Job) (map[string]any, error) {
	stepJSON, err := json.Marshal(j.Step)
	if err != nil {
		return nil, fmt.Errorf("courier/redis: encode step: %w", err)
	}
	m := map[string]any{
		"id":             j.ID.String(),
		"template_id":    j.TemplateID.String(),
		"transaction_id": j.TransactionID,
		"environment_id": j.EnvironmentID,
		"subscriber_id":  j.SubscriberID,
		"type":           string(j.Type),
		"step":           string(stepJSON),
		"status":         string(j.Status),
		"payload":        string(j.Payload),
		"step_index":     strconv.Itoa(j.StepIndex),
		"predecessor_id": j.PredecessorID.String(),
		"last_error":     j.LastError,
		"created_at":     j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":     j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if j.AvailableAt != nil {
		m["available_at"] = j.AvailableAt.UTC().Format(time.RFC3339Nano)
		m["available_at_us"] = strconv.FormatInt(j.AvailableAt.UTC().UnixMicro(), 10)
	}
	for field, t := range map[string]*time.Time{
		"queued_at":    j.QueuedAt,
		"started_at":   j.StartedAt,
		"completed_at": j.CompletedAt,
	} {
		if t != nil {
			m[field] = t.UTC().Format(time.RFC3339Nano)
		}
	}
	return m, nil
}

func mapToJob(m map[string]string) (*job.Job, error) {
	j := &job.Job{
		TransactionID: m["transaction_id"],
		EnvironmentID: m["environment_id"],
		SubscriberID:  m["subscriber_id"],
		Type:          step.Type(m["type"]),
		Status:        job.Status(m["status"]),
		LastError:     m["last_error"],
	}

	var err error
	if j.ID, err = id.ParseJobID(m["id"]); err != nil {
		return nil, fmt.Errorf("courier/redis: parse job id: %w", err)
	}
	if j.TemplateID, err = id.ParseNullable(m["template_id"], id.PrefixTemplate); err != nil {
		return nil, fmt.Errorf("courier/redis: parse template id: %w", err)
	}
	if j.PredecessorID, err = id.ParseNullable(m["predecessor_id"], id.PrefixJob); err != nil {
		return nil, fmt.Errorf("courier/redis: parse predecessor id: %w", err)
	}
	if err := json.Unmarshal([]byte(m["step"]), &j.Step); err != nil {
		return nil, fmt.Errorf("courier/redis: decode step: %w", err)
	}
	if p := m["payload"]; p != "" {
		j.Payload = []byte(p)
	}
	j.StepIndex, _ = strconv.Atoi(m["step_index"])                 //nolint:errcheck // best-effort parse from trusted Redis data
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j.AvailableAt = parseOptionalTime(m["available_at"])
	j.QueuedAt = parseOptionalTime(m["queued_at"])
	j.StartedAt = parseOptionalTime(m["started_at"])
	j.CompletedAt = parseOptionalTime(m["completed_at"])
	return j, nil
}

func parseOptionalTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
