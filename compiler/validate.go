package compiler

import (
	"fmt"
	"strings"

	"github.com/xraph/courier"
	"github.com/xraph/courier/step"
	"github.com/xraph/courier/trigger"
)

// Validate reports the first problem that would stop trg from compiling
// against tpl, as a *courier.ValidationError.
func Validate(tpl *step.Template, trg trigger.Trigger) error {
	if tpl == nil {
		return courier.NewValidationError("template", "is required")
	}
	if !trg.TemplateID.IsNil() && !trg.TemplateID.Equal(tpl.ID) {
		return courier.NewValidationError("template_id", "trigger names %s but template is %s", trg.TemplateID, tpl.ID)
	}
	if len(tpl.Steps) == 0 {
		return courier.NewValidationError("steps", "template %q has no steps", tpl.Name)
	}
	if len(trg.To) == 0 {
		return courier.NewValidationError("to", "at least one subscriber is required")
	}

	seen := make(map[string]struct{}, len(trg.To))
	for i, sub := range trg.To {
		field := fmt.Sprintf("to[%d]", i)
		if strings.TrimSpace(sub) == "" {
			return courier.NewValidationError(field, "subscriber id is blank")
		}
		if _, dup := seen[sub]; dup {
			return courier.NewValidationError(field, "subscriber %q appears more than once", sub)
		}
		seen[sub] = struct{}{}
	}

	for typ, o := range trg.Overrides {
		field := fmt.Sprintf("overrides[%s]", typ)
		if !typ.IsDeferred() {
			return courier.NewValidationError(field, "only delay and digest steps can be overridden")
		}
		if o.Amount < 0 {
			return courier.NewValidationError(field, "amount must not be negative, got %d", o.Amount)
		}
		if !o.Unit.Valid() {
			return courier.NewValidationError(field, "unknown unit %q", o.Unit)
		}
		if limit := o.Unit.MaxAmount(); o.Amount > limit {
			return courier.NewValidationError(field, "amount %d %s exceeds the limit of %d", o.Amount, o.Unit, limit)
		}
	}

	for i, st := range tpl.Steps {
		if err := validateStep(i, st, trg); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st step.Step, trg trigger.Trigger) error {
	field := fmt.Sprintf("steps[%d]", i)
	if !st.Type.Valid() {
		return courier.NewValidationError(field+".type", "unknown step type %q", st.Type)
	}
	if !st.Type.IsDeferred() {
		return nil
	}
	if _, ok := trg.Override(st.Type); ok {
		return nil
	}

	md := st.Metadata
	if st.Type == step.Digest {
		switch md.Type {
		case "", step.DigestRegular, step.DigestBackoff, step.DigestTimed:
		default:
			return courier.NewValidationError(field+".metadata.type", "unknown digest type %q", md.Type)
		}
	}
	if st.Type == step.Digest && md.Timed() {
		if md.Cron == "" {
			return courier.NewValidationError(field+".metadata.cron", "timed digest needs a cron expression")
		}
		if _, err := ParseCron(md.Cron); err != nil {
			return courier.NewValidationError(field+".metadata.cron", "invalid cron %q: %v", md.Cron, err)
		}
		return nil
	}
	if md.Unit == "" {
		return courier.NewValidationError(field+".metadata.unit", "%s step needs a unit", st.Type)
	}
	if !md.Unit.Valid() {
		return courier.NewValidationError(field+".metadata.unit", "unknown unit %q", md.Unit)
	}
	if md.Amount < 0 {
		return courier.NewValidationError(field+".metadata.amount", "must not be negative, got %d", md.Amount)
	}
	if limit := md.Unit.MaxAmount(); md.Amount > limit {
		return courier.NewValidationError(field+".metadata.amount", "%d %s exceeds the limit of %d", md.Amount, md.Unit, limit)
	}
	return nil
}
