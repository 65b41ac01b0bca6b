package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/sqlbuild"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/step"
)

const messageColumns = `
	id, job_id, transaction_id, template_id, environment_id,
	subscriber_id, channel, subject, content, created_at`

// CreateMessage persists a message, at most one per job.
func (s *Store) CreateMessage(ctx context.Context, m *message.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO courier_messages (`+messageColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID.String(), m.JobID.String(), m.TransactionID, m.TemplateID.String(), m.EnvironmentID,
		m.SubscriberID, string(m.Channel), m.Subject, m.Content, m.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrMessageAlreadyExists
		}
		return fmt.Errorf("courier/postgres: create message: %w", err)
	}
	return nil
}

// ListMessages returns matching messages ordered by creation time.
func (s *Store) ListMessages(ctx context.Context, f message.Filter) ([]*message.Message, error) {
	b := sqlbuild.New(sqlbuild.Dollar)
	b.MessageFilter(f)

	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM courier_messages`+b.Where()+
		` ORDER BY created_at, id`+sqlbuild.Limit(f.Limit), b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/postgres: scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate message rows: %w", err)
	}
	return msgs, nil
}

// CountMessages returns the number of matching messages.
func (s *Store) CountMessages(ctx context.Context, f message.Filter) (int64, error) {
	b := sqlbuild.New(sqlbuild.Dollar)
	b.MessageFilter(f)

	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM courier_messages`+b.Where(), b.Args()...).Scan(&count); err != nil {
		return 0, fmt.Errorf("courier/postgres: count messages: %w", err)
	}
	return count, nil
}

func scanMessage(row pgx.Row) (*message.Message, error) {
	var (
		m                     message.Message
		idStr, jobStr, tplStr string
		channel               string
	)
	err := row.Scan(
		&idStr, &jobStr, &m.TransactionID, &tplStr, &m.EnvironmentID,
		&m.SubscriberID, &channel, &m.Subject, &m.Content, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Channel = step.Type(channel)

	if m.ID, err = parseID(idStr, id.PrefixMessage); err != nil {
		return nil, err
	}
	if m.JobID, err = parseID(jobStr, id.PrefixJob); err != nil {
		return nil, err
	}
	if m.TemplateID, err = parseID(tplStr, id.PrefixTemplate); err != nil {
		return nil, err
	}
	return &m, nil
}
