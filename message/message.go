// Package message defines the record of a delivered channel step and its
// store interface.
package message

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/step"
)

// Message is the rendered content delivered for one channel job. A job
// produces at most one message.
type Message struct {
	ID            id.MessageID  `json:"id"`
	JobID         id.JobID      `json:"job_id"`
	TransactionID string        `json:"transaction_id"`
	TemplateID    id.TemplateID `json:"template_id"`
	EnvironmentID string        `json:"environment_id"`
	SubscriberID  string        `json:"subscriber_id"`
	Channel       step.Type     `json:"channel"`
	Subject       string        `json:"subject,omitempty"`
	Content       string        `json:"content"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Filter selects messages. Zero-valued fields do not constrain the result.
type Filter struct {
	JobID         id.JobID
	TransactionID string
	SubscriberID  string
	Channel       step.Type

	// Limit is the maximum number of messages returned. Zero means no limit.
	Limit int
}

// Match reports whether m satisfies the filter, ignoring Limit.
func (f Filter) Match(m *Message) bool {
	if !f.JobID.IsNil() && !m.JobID.Equal(f.JobID) {
		return false
	}
	if f.TransactionID != "" && m.TransactionID != f.TransactionID {
		return false
	}
	if f.SubscriberID != "" && m.SubscriberID != f.SubscriberID {
		return false
	}
	if f.Channel != "" && m.Channel != f.Channel {
		return false
	}
	return true
}

// Store defines the persistence contract for messages.
type Store interface {
	// CreateMessage persists m. It returns courier.ErrMessageAlreadyExists if
	// a message for m.JobID exists.
	CreateMessage(ctx context.Context, m *Message) error

	// ListMessages returns matching messages ordered by creation time.
	ListMessages(ctx context.Context, f Filter) ([]*Message, error)

	// CountMessages returns the number of matching messages.
	CountMessages(ctx context.Context, f Filter) (int64, error)
}
