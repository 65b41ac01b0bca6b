// Package trigger defines the request that starts a workflow for a set of
// subscribers.
package trigger

import (
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/step"
)

// Override replaces the amount and unit of every step of one type for a
// single trigger. The template itself is never changed.
type Override struct {
	Amount int       `json:"amount"`
	Unit   step.Unit `json:"unit"`
}

// Trigger asks the engine to run a template for each subscriber in To.
type Trigger struct {
	// TransactionID groups the jobs of this trigger. A UUID is generated
	// when it is empty.
	TransactionID string `json:"transaction_id,omitempty"`

	TemplateID id.TemplateID `json:"template_id"`

	// EnvironmentID defaults to the engine's configured environment.
	EnvironmentID string `json:"environment_id,omitempty"`

	Payload   map[string]any         `json:"payload,omitempty"`
	To        []string               `json:"to"`
	Overrides map[step.Type]Override `json:"overrides,omitempty"`
}

// Override returns the override configured for t, if any.
func (tr Trigger) Override(t step.Type) (Override, bool) {
	if tr.Overrides == nil {
		return Override{}, false
	}
	o, ok := tr.Overrides[t]
	return o, ok
}
