// Package sqlbuild assembles WHERE clauses for the SQL store backends.
package sqlbuild

import (
	"strconv"
	"strings"

	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
)

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// Dollar renders PostgreSQL placeholders ($1, $2, ...).
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// Question renders SQLite placeholders.
func Question(int) string { return "?" }

// Builder accumulates AND-ed conditions and their arguments.
type Builder struct {
	ph    Placeholder
	conds []string
	args  []any
}

// New returns an empty Builder.
func New(ph Placeholder) *Builder {
	return &Builder{ph: ph}
}

// Arg binds v and returns its placeholder.
func (b *Builder) Arg(v any) string {
	b.args = append(b.args, v)
	return b.ph(len(b.args))
}

// Cond adds a raw condition.
func (b *Builder) Cond(cond string) {
	b.conds = append(b.conds, cond)
}

// Eq adds col = v.
func (b *Builder) Eq(col string, v any) {
	b.Cond(col + " = " + b.Arg(v))
}

// In adds col IN (vs...). An empty vs matches nothing.
func (b *Builder) In(col string, vs []string) {
	b.list(col, "IN", vs)
}

// NotIn adds col NOT IN (vs...). An empty vs is ignored.
func (b *Builder) NotIn(col string, vs []string) {
	if len(vs) == 0 {
		return
	}
	b.list(col, "NOT IN", vs)
}

func (b *Builder) list(col, op string, vs []string) {
	if len(vs) == 0 {
		b.Cond("1 = 0")
		return
	}
	ph := make([]string, len(vs))
	for i, v := range vs {
		ph[i] = b.Arg(v)
	}
	b.Cond(col + " " + op + " (" + strings.Join(ph, ", ") + ")")
}

// Statuses adds col IN (ss...).
func (b *Builder) Statuses(col string, ss []job.Status) {
	b.In(col, stringsOf(ss))
}

// Where renders " WHERE ..." or the empty string.
func (b *Builder) Where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// Args returns the bound arguments in placeholder order.
func (b *Builder) Args() []any { return b.args }

// JobFilter adds the conditions of f.
func (b *Builder) JobFilter(f job.Filter) {
	if len(f.IDs) > 0 {
		ids := make([]string, len(f.IDs))
		for i, v := range f.IDs {
			ids[i] = v.String()
		}
		b.In("id", ids)
	}
	if f.TransactionID != "" {
		b.Eq("transaction_id", f.TransactionID)
	}
	if !f.TemplateID.IsNil() {
		b.Eq("template_id", f.TemplateID.String())
	}
	if f.SubscriberID != "" {
		b.Eq("subscriber_id", f.SubscriberID)
	}
	if !f.PredecessorID.IsNil() {
		b.Eq("predecessor_id", f.PredecessorID.String())
	}
	if len(f.Types) > 0 {
		b.In("type", stringsOf(f.Types))
	}
	b.NotIn("type", stringsOf(f.ExcludeTypes))
	if len(f.Statuses) > 0 {
		b.In("status", stringsOf(f.Statuses))
	}
	if f.StepIndex != nil {
		b.Eq("step_index", *f.StepIndex)
	}
}

// MessageFilter adds the conditions of f.
func (b *Builder) MessageFilter(f message.Filter) {
	if !f.JobID.IsNil() {
		b.Eq("job_id", f.JobID.String())
	}
	if f.TransactionID != "" {
		b.Eq("transaction_id", f.TransactionID)
	}
	if f.SubscriberID != "" {
		b.Eq("subscriber_id", f.SubscriberID)
	}
	if f.Channel != "" {
		b.Eq("channel", string(f.Channel))
	}
}

// Limit renders " LIMIT n" for positive n.
func Limit(n int) string {
	if n <= 0 {
		return ""
	}
	return " LIMIT " + strconv.Itoa(n)
}

func stringsOf[T ~string](vs []T) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}
