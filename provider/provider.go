package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/step"
)

// ErrNoProvider is returned by Registry.Send when no provider serves the
// channel.
var ErrNoProvider = errors.New("courier: no provider for channel")

// Delivery is one rendered message handed to a provider.
type Delivery struct {
	MessageID     id.MessageID
	JobID         id.JobID
	TransactionID string
	EnvironmentID string
	SubscriberID  string
	Channel       step.Type
	Subject       string
	Content       string
	Payload       map[string]any
}

// Provider delivers messages for a channel.
type Provider interface {
	Send(ctx context.Context, d Delivery) error
}

// Func adapts a function to Provider.
type Func func(ctx context.Context, d Delivery) error

// Send implements Provider.
func (f Func) Send(ctx context.Context, d Delivery) error { return f(ctx, d) }

// Registry maps channels to providers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[step.Type]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[step.Type]Provider)}
}

// Register sets the provider for channel, replacing any previous one.
func (r *Registry) Register(channel step.Type, p Provider) {
	r.mu.Lock()
	r.providers[channel] = p
	r.mu.Unlock()
}

// RegisterAll sets p for every channel step type.
func (r *Registry) RegisterAll(p Provider) {
	for _, t := range step.Types {
		if t.IsChannel() {
			r.Register(t, p)
		}
	}
}

// Get returns the provider for channel.
func (r *Registry) Get(channel step.Type) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[channel]
	return p, ok
}

// Channels returns the channels with a registered provider, sorted.
func (r *Registry) Channels() []step.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]step.Type, 0, len(r.providers))
	for t := range r.providers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, k int) bool { return out[i] < out[k] })
	return out
}

// Send delivers d through the provider registered for d.Channel.
func (r *Registry) Send(ctx context.Context, d Delivery) error {
	p, ok := r.Get(d.Channel)
	if !ok {
		return fmt.Errorf("%w %q", ErrNoProvider, d.Channel)
	}
	return p.Send(ctx, d)
}

// Log is a Provider that writes each delivery to a logger.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Log provider. A nil logger uses slog.Default.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Send implements Provider.
func (l *Log) Send(ctx context.Context, d Delivery) error {
	l.logger.InfoContext(ctx, "message delivered",
		slog.String("message_id", d.MessageID.String()),
		slog.String("job_id", d.JobID.String()),
		slog.String("transaction_id", d.TransactionID),
		slog.String("subscriber_id", d.SubscriberID),
		slog.String("step_type", string(d.Channel)),
		slog.String("subject", d.Subject),
		slog.String("content", d.Content),
	)
	return nil
}

// Recorder is a Provider that keeps every delivery in memory. Set Fail to
// make Send return an error for chosen deliveries.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery

	// Fail, when set, is consulted before recording; a non-nil result is
	// returned from Send and the delivery is not recorded.
	Fail func(d Delivery) error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Send implements Provider.
func (r *Recorder) Send(_ context.Context, d Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		if err := r.Fail(d); err != nil {
			return err
		}
	}
	r.deliveries = append(r.deliveries, d)
	return nil
}

// Deliveries returns a copy of the recorded deliveries in send order.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// Len returns the number of recorded deliveries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

// Reset discards every recorded delivery.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.deliveries = nil
	r.mu.Unlock()
}
