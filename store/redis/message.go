package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/step"
)

// CreateMessage reserves the job's message slot with SETNX, then writes the
// hash and indexes.
func (s *Store) CreateMessage(ctx context.Context, m *message.Message) error {
	mID := m.ID.String()
	ok, err := s.client.SetNX(ctx, messageByJobKey(m.JobID.String()), mID, 0).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: reserve message: %w", err)
	}
	if !ok {
		return courier.ErrMessageAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, messageKey(mID), map[string]any{
		"id":             mID,
		"job_id":         m.JobID.String(),
		"transaction_id": m.TransactionID,
		"template_id":    m.TemplateID.String(),
		"environment_id": m.EnvironmentID,
		"subscriber_id":  m.SubscriberID,
		"channel":        string(m.Channel),
		"subject":        m.Subject,
		"content":        m.Content,
		"created_at":     m.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.ZAdd(ctx, messageIDsKey, goredis.Z{Score: micros(m.CreatedAt), Member: mID})
	pipe.SAdd(ctx, messageTransactionKey(m.TransactionID), mID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: create message: %w", err)
	}
	return nil
}

// ListMessages returns matching messages ordered by creation time.
func (s *Store) ListMessages(ctx context.Context, f message.Filter) ([]*message.Message, error) {
	msgs, err := s.matchMessages(ctx, f)
	if err != nil {
		return nil, err
	}
	if f.Limit > 0 && len(msgs) > f.Limit {
		msgs = msgs[:f.Limit]
	}
	return msgs, nil
}

// CountMessages returns the number of matching messages.
func (s *Store) CountMessages(ctx context.Context, f message.Filter) (int64, error) {
	msgs, err := s.matchMessages(ctx, f)
	if err != nil {
		return 0, err
	}
	return int64(len(msgs)), nil
}

func (s *Store) matchMessages(ctx context.Context, f message.Filter) ([]*message.Message, error) {
	var (
		ids []string
		err error
	)
	switch {
	case !f.JobID.IsNil():
		var mID string
		mID, err = s.client.Get(ctx, messageByJobKey(f.JobID.String())).Result()
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		ids = []string{mID}
	case f.TransactionID != "":
		ids, err = s.client.SMembers(ctx, messageTransactionKey(f.TransactionID)).Result()
	default:
		ids, err = s.client.ZRange(ctx, messageIDsKey, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("courier/redis: scan message index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, mID := range ids {
		cmds[i] = pipe.HGetAll(ctx, messageKey(mID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("courier/redis: load messages: %w", err)
	}

	var msgs []*message.Message
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		m, err := mapToMessage(vals)
		if err != nil {
			return nil, err
		}
		if f.Match(m) {
			msgs = append(msgs, m)
		}
	}
	slices.SortFunc(msgs, func(a, b *message.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return id.Compare(a.ID, b.ID)
	})
	return msgs, nil
}

func mapToMessage(v map[string]string) (*message.Message, error) {
	m := &message.Message{
		TransactionID: v["transaction_id"],
		EnvironmentID: v["environment_id"],
		SubscriberID:  v["subscriber_id"],
		Channel:       step.Type(v["channel"]),
		Subject:       v["subject"],
		Content:       v["content"],
	}
	var err error
	if m.ID, err = id.ParseMessageID(v["id"]); err != nil {
		return nil, fmt.Errorf("courier/redis: parse message id: %w", err)
	}
	if m.JobID, err = id.ParseJobID(v["job_id"]); err != nil {
		return nil, fmt.Errorf("courier/redis: parse message job id: %w", err)
	}
	if m.TemplateID, err = id.ParseNullable(v["template_id"], id.PrefixTemplate); err != nil {
		return nil, fmt.Errorf("courier/redis: parse message template id: %w", err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, v["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	return m, nil
}
