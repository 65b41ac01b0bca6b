package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

var (
	chainSort = bson.D{{Key: "subscriber_id", Value: 1}, {Key: "step_index", Value: 1}, {Key: "_id", Value: 1}}
	readySort = bson.D{
		{Key: "queued_at", Value: 1},
		{Key: "created_at", Value: 1},
		{Key: "step_index", Value: 1},
		{Key: "_id", Value: 1},
	}
	dueSort = bson.D{{Key: "available_at", Value: 1}, {Key: "_id", Value: 1}}
)

// InsertJobs writes the batch under one batch token. A duplicate key removes
// whatever part of the batch made it in.
func (s *Store) InsertJobs(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	batch := uuid.NewString()
	seen := make(map[string]struct{}, 2*len(jobs))
	docs := make([]any, len(jobs))
	for i, j := range jobs {
		for _, k := range []string{"id:" + j.ID.String(), "fp:" + j.Fingerprint()} {
			if _, dup := seen[k]; dup {
				return courier.ErrJobAlreadyExists
			}
			seen[k] = struct{}{}
		}
		docs[i] = toJobModel(j, batch)
	}

	_, err := s.db.Collection(colJobs).InsertMany(ctx, docs)
	if err == nil {
		return nil
	}
	if _, delErr := s.db.Collection(colJobs).DeleteMany(ctx, bson.M{"insert_batch": batch}); delErr != nil {
		s.logger.Error("courier/mongo: roll back partial job batch",
			"batch", batch,
			"error", delErr,
		)
		return fmt.Errorf("courier/mongo: roll back batch %s: %w", batch, errors.Join(err, delErr))
	}
	if isDuplicateKey(err) {
		return courier.ErrJobAlreadyExists
	}
	return fmt.Errorf("courier/mongo: insert jobs: %w", err)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, courier.ErrJobNotFound
		}
		return nil, fmt.Errorf("courier/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// FindOneJob returns the first matching job in chain order.
func (s *Store) FindOneJob(ctx context.Context, f job.Filter) (*job.Job, error) {
	var m jobModel
	opts := options.FindOne().SetSort(chainSort)
	err := s.db.Collection(colJobs).FindOne(ctx, jobFilter(f), opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, courier.ErrJobNotFound
		}
		return nil, fmt.Errorf("courier/mongo: find job: %w", err)
	}
	return fromJobModel(&m)
}

// FindJobs returns matching jobs ordered by subscriber then step index.
func (s *Store) FindJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	opts := options.Find().SetSort(chainSort)
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	return s.findJobs(ctx, jobFilter(f), opts)
}

// CountJobs returns the number of matching jobs.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	n, err := s.db.Collection(colJobs).CountDocuments(ctx, jobFilter(f))
	if err != nil {
		return 0, fmt.Errorf("courier/mongo: count jobs: %w", err)
	}
	return n, nil
}

// CompareAndSetStatus applies t with a single conditional UpdateOne.
func (s *Store) CompareAndSetStatus(ctx context.Context, jobID id.JobID, t job.Transition) (bool, error) {
	jID := jobID.String()
	sources := t.Sources()
	if len(sources) == 0 {
		return false, s.checkJobExists(ctx, jID)
	}

	at := t.At.UTC()
	set := bson.M{
		"status":     string(t.To),
		"updated_at": at,
	}
	if field := job.StampField(t.To); field != "" {
		set[field] = at
	}
	if t.Error != "" {
		set["last_error"] = t.Error
	}

	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{"_id": jID, "status": bson.M{"$in": statusStrings(sources)}},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("courier/mongo: set job status: %w", err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	return false, s.checkJobExists(ctx, jID)
}

// ListReadyJobs returns queued jobs whose AvailableAt is unset or passed.
func (s *Store) ListReadyJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	filter := bson.M{
		"status": string(job.StatusQueued),
		"$or": bson.A{
			bson.M{"available_at": nil},
			bson.M{"available_at": bson.M{"$lte": now.UTC()}},
		},
	}
	opts := options.Find().SetSort(readySort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	jobs, err := s.findJobs(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	// Missing queued_at sorts first in MongoDB; the contract puts it last.
	return nullsLast(jobs), nil
}

// ListDueJobs returns delayed jobs due at before, earliest first.
func (s *Store) ListDueJobs(ctx context.Context, before time.Time, limit int) ([]*job.Job, error) {
	filter := bson.M{"status": string(job.StatusDelayed)}
	if !before.IsZero() {
		filter["available_at"] = bson.M{"$lte": before.UTC()}
	}
	opts := options.Find().SetSort(dueSort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findJobs(ctx, filter, opts)
}

// ── helpers ──────────────────────────────────────────────────────

func (s *Store) findJobs(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*job.Job, error) {
	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: find jobs: %w", err)
	}
	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("courier/mongo: decode jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *Store) checkJobExists(ctx context.Context, jID string) error {
	n, err := s.db.Collection(colJobs).CountDocuments(ctx, bson.M{"_id": jID}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("courier/mongo: check job: %w", err)
	}
	if n == 0 {
		return courier.ErrJobNotFound
	}
	return nil
}

func jobFilter(f job.Filter) bson.M {
	filter := bson.M{}
	if len(f.IDs) > 0 {
		ids := make([]string, len(f.IDs))
		for i, v := range f.IDs {
			ids[i] = v.String()
		}
		filter["_id"] = bson.M{"$in": ids}
	}
	if f.TransactionID != "" {
		filter["transaction_id"] = f.TransactionID
	}
	if !f.TemplateID.IsNil() {
		filter["template_id"] = f.TemplateID.String()
	}
	if f.SubscriberID != "" {
		filter["subscriber_id"] = f.SubscriberID
	}
	if !f.PredecessorID.IsNil() {
		filter["predecessor_id"] = f.PredecessorID.String()
	}
	switch {
	case len(f.Types) > 0 && len(f.ExcludeTypes) > 0:
		filter["type"] = bson.M{"$in": stringsOf(f.Types), "$nin": stringsOf(f.ExcludeTypes)}
	case len(f.Types) > 0:
		filter["type"] = bson.M{"$in": stringsOf(f.Types)}
	case len(f.ExcludeTypes) > 0:
		filter["type"] = bson.M{"$nin": stringsOf(f.ExcludeTypes)}
	}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": statusStrings(f.Statuses)}
	}
	if f.StepIndex != nil {
		filter["step_index"] = *f.StepIndex
	}
	return filter
}

func statusStrings(ss []job.Status) []string {
	return stringsOf(ss)
}

func stringsOf[T ~string](vs []T) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}

// nullsLast moves jobs without a QueuedAt behind the stamped ones, keeping
// relative order.
func nullsLast(jobs []*job.Job) []*job.Job {
	out := make([]*job.Job, 0, len(jobs))
	var unstamped []*job.Job
	for _, j := range jobs {
		if j.QueuedAt == nil {
			unstamped = append(unstamped, j)
			continue
		}
		out = append(out, j)
	}
	return append(out, unstamped...)
}

