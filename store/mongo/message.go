package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/courier"
	"github.com/xraph/courier/message"
)

// CreateMessage persists a message. The unique job_id index rejects a second
// message for the same job.
func (s *Store) CreateMessage(ctx context.Context, m *message.Message) error {
	_, err := s.db.Collection(colMessages).InsertOne(ctx, toMessageModel(m))
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrMessageAlreadyExists
		}
		return fmt.Errorf("courier/mongo: create message: %w", err)
	}
	return nil
}

// ListMessages returns matching messages ordered by creation time.
func (s *Store) ListMessages(ctx context.Context, f message.Filter) ([]*message.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cursor, err := s.db.Collection(colMessages).Find(ctx, messageFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: list messages: %w", err)
	}
	var models []messageModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("courier/mongo: decode messages: %w", err)
	}

	msgs := make([]*message.Message, 0, len(models))
	for i := range models {
		m, err := fromMessageModel(&models[i])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// CountMessages returns the number of matching messages.
func (s *Store) CountMessages(ctx context.Context, f message.Filter) (int64, error) {
	n, err := s.db.Collection(colMessages).CountDocuments(ctx, messageFilter(f))
	if err != nil {
		return 0, fmt.Errorf("courier/mongo: count messages: %w", err)
	}
	return n, nil
}

func messageFilter(f message.Filter) bson.M {
	filter := bson.M{}
	if !f.JobID.IsNil() {
		filter["job_id"] = f.JobID.String()
	}
	if f.TransactionID != "" {
		filter["transaction_id"] = f.TransactionID
	}
	if f.SubscriberID != "" {
		filter["subscriber_id"] = f.SubscriberID
	}
	if f.Channel != "" {
		filter["channel"] = string(f.Channel)
	}
	return filter
}
