package sqlite

import (
	"context"
	"fmt"

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
	_, err := s.db.ExecContext(ctx, `INSERT INTO courier_messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.JobID.String(), m.TransactionID, m.TemplateID.String(), m.EnvironmentID,
		m.SubscriberID, string(m.Channel), m.Subject, m.Content, formatTime(m.CreatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrMessageAlreadyExists
		}
		return fmt.Errorf("courier/sqlite: create message: %w", err)
	}
	return nil
}

// ListMessages returns matching messages ordered by creation time.
func (s *Store) ListMessages(ctx context.Context, f message.Filter) ([]*message.Message, error) {
	b := sqlbuild.New(sqlbuild.Question)
	b.MessageFilter(f)

	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM courier_messages`+b.Where()+
		` ORDER BY created_at, id`+sqlbuild.Limit(f.Limit), b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("courier/sqlite: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/sqlite: scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/sqlite: iterate message rows: %w", err)
	}
	return msgs, nil
}

// CountMessages returns the number of matching messages.
func (s *Store) CountMessages(ctx context.Context, f message.Filter) (int64, error) {
	b := sqlbuild.New(sqlbuild.Question)
	b.MessageFilter(f)

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM courier_messages`+b.Where(), b.Args()...).Scan(&count); err != nil {
		return 0, fmt.Errorf("courier/sqlite: count messages: %w", err)
	}
	return count, nil
}

func scanMessage(row rowScanner) (*message.Message, error) {
	var (
		m                     message.Message
		idStr, jobStr, tplStr string
		channel, createdAt    string
	)
	err := row.Scan(
		&idStr, &jobStr, &m.TransactionID, &tplStr, &m.EnvironmentID,
		&m.SubscriberID, &channel, &m.Subject, &m.Content, &createdAt,
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
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &m, nil
}
