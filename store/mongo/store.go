package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
)

const (
	colJobs     = "courier_jobs"
	colMessages = "courier_messages"
)

var (
	_ job.Store     = (*Store)(nil)
	_ message.Store = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db     *mongod.Database
	client *mongod.Client // set when the Store owns the connection
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store on an existing database. The caller owns the client
// lifecycle; Close does not disconnect it.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri and returns a store on database. The Store owns the
// client and disconnects it on Close.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("courier/mongo: ping: %w", err)
	}
	s := New(client.Database(database), opts...)
	s.client = client
	return s, nil
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all courier collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("courier/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks the connection, preferring the primary.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("courier/mongo: ping: %w", err)
	}
	return nil
}

// Close disconnects the client if the Store opened it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func isNoDocuments(err error) bool { return errors.Is(err, mongod.ErrNoDocuments) }

func isDuplicateKey(err error) bool { return mongod.IsDuplicateKeyError(err) }

// migrationIndexes returns the index definitions for all courier collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// One job per (transaction, step index, subscriber).
			{
				Keys: bson.D{
					{Key: "transaction_id", Value: 1},
					{Key: "step_index", Value: 1},
					{Key: "subscriber_id", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			// Successor lookup.
			{Keys: bson.D{{Key: "predecessor_id", Value: 1}}},
			// Ready scan.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "queued_at", Value: 1},
				{Key: "created_at", Value: 1},
			}},
			// Due scan.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "available_at", Value: 1},
			}},
			// Batch rollback.
			{Keys: bson.D{{Key: "insert_batch", Value: 1}}},
		},
		colMessages: {
			{
				Keys:    bson.D{{Key: "job_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{
				{Key: "transaction_id", Value: 1},
				{Key: "created_at", Value: 1},
			}},
		},
	}
}
