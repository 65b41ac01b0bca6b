package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/step"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID            string     `bson:"_id"`
	TemplateID    string     `bson:"template_id"`
	TransactionID string     `bson:"transaction_id"`
	EnvironmentID string     `bson:"environment_id"`
	SubscriberID  string     `bson:"subscriber_id"`
	Type          string     `bson:"type"`
	Step          stepModel  `bson:"step"`
	Status        string     `bson:"status"`
	Payload       []byte     `bson:"payload,omitempty"`
	StepIndex     int        `bson:"step_index"`
	PredecessorID string     `bson:"predecessor_id"`
	AvailableAt   *time.Time `bson:"available_at,omitempty"`
	QueuedAt      *time.Time `bson:"queued_at,omitempty"`
	StartedAt     *time.Time `bson:"started_at,omitempty"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty"`
	LastError     string     `bson:"last_error"`
	InsertBatch   string     `bson:"insert_batch"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
}

type stepModel struct {
	Type      string `bson:"type"`
	Content   string `bson:"content,omitempty"`
	Subject   string `bson:"subject,omitempty"`
	Amount    int    `bson:"amount,omitempty"`
	Unit      string `bson:"unit,omitempty"`
	Digest    string `bson:"digest_type,omitempty"`
	Cron      string `bson:"cron,omitempty"`
	DigestKey string `bson:"digest_key,omitempty"`
}

func toJobModel(j *job.Job, batch string) *jobModel {
	return &jobModel{
		ID:            j.ID.String(),
		TemplateID:    j.TemplateID.String(),
		TransactionID: j.TransactionID,
		EnvironmentID: j.EnvironmentID,
		SubscriberID:  j.SubscriberID,
		Type:          string(j.Type),
		Step: stepModel{
			Type:      string(j.Step.Type),
			Content:   j.Step.Content,
			Subject:   j.Step.Subject,
			Amount:    j.Step.Metadata.Amount,
			Unit:      string(j.Step.Metadata.Unit),
			Digest:    string(j.Step.Metadata.Type),
			Cron:      j.Step.Metadata.Cron,
			DigestKey: j.Step.Metadata.DigestKey,
		},
		Status:        string(j.Status),
		Payload:       j.Payload,
		StepIndex:     j.StepIndex,
		PredecessorID: j.PredecessorID.String(),
		AvailableAt:   utcPtr(j.AvailableAt),
		QueuedAt:      utcPtr(j.QueuedAt),
		StartedAt:     utcPtr(j.StartedAt),
		CompletedAt:   utcPtr(j.CompletedAt),
		LastError:     j.LastError,
		InsertBatch:   batch,
		CreatedAt:     j.CreatedAt.UTC(),
		UpdatedAt:     j.UpdatedAt.UTC(),
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: parse job id: %w", err)
	}
	tplID, err := id.ParseNullable(m.TemplateID, id.PrefixTemplate)
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: parse template id: %w", err)
	}
	predID, err := id.ParseNullable(m.PredecessorID, id.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: parse predecessor id: %w", err)
	}

	return &job.Job{
		Entity:        courier.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:            jobID,
		TemplateID:    tplID,
		TransactionID: m.TransactionID,
		EnvironmentID: m.EnvironmentID,
		SubscriberID:  m.SubscriberID,
		Type:          step.Type(m.Type),
		Step: step.Step{
			Type:    step.Type(m.Step.Type),
			Content: m.Step.Content,
			Subject: m.Step.Subject,
			Metadata: step.Metadata{
				Amount:    m.Step.Amount,
				Unit:      step.Unit(m.Step.Unit),
				Type:      step.DigestType(m.Step.Digest),
				Cron:      m.Step.Cron,
				DigestKey: m.Step.DigestKey,
			},
		},
		Status:        job.Status(m.Status),
		Payload:       m.Payload,
		StepIndex:     m.StepIndex,
		PredecessorID: predID,
		AvailableAt:   utcPtr(m.AvailableAt),
		QueuedAt:      utcPtr(m.QueuedAt),
		StartedAt:     utcPtr(m.StartedAt),
		CompletedAt:   utcPtr(m.CompletedAt),
		LastError:     m.LastError,
	}, nil
}

// ── Message model ─────────────────────────────────────────────────

type messageModel struct {
	ID            string    `bson:"_id"`
	JobID         string    `bson:"job_id"`
	TransactionID string    `bson:"transaction_id"`
	TemplateID    string    `bson:"template_id"`
	EnvironmentID string    `bson:"environment_id"`
	SubscriberID  string    `bson:"subscriber_id"`
	Channel       string    `bson:"channel"`
	Subject       string    `bson:"subject,omitempty"`
	Content       string    `bson:"content"`
	CreatedAt     time.Time `bson:"created_at"`
}

func toMessageModel(m *message.Message) *messageModel {
	return &messageModel{
		ID:            m.ID.String(),
		JobID:         m.JobID.String(),
		TransactionID: m.TransactionID,
		TemplateID:    m.TemplateID.String(),
		EnvironmentID: m.EnvironmentID,
		SubscriberID:  m.SubscriberID,
		Channel:       string(m.Channel),
		Subject:       m.Subject,
		Content:       m.Content,
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

func fromMessageModel(m *messageModel) (*message.Message, error) {
	msgID, err := id.ParseMessageID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: parse message id: %w", err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: parse message job id: %w", err)
	}
	tplID, err := id.ParseNullable(m.TemplateID, id.PrefixTemplate)
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: parse message template id: %w", err)
	}
	return &message.Message{
		ID:            msgID,
		JobID:         jobID,
		TransactionID: m.TransactionID,
		TemplateID:    tplID,
		EnvironmentID: m.EnvironmentID,
		SubscriberID:  m.SubscriberID,
		Channel:       step.Type(m.Channel),
		Subject:       m.Subject,
		Content:       m.Content,
		CreatedAt:     m.CreatedAt.UTC(),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
