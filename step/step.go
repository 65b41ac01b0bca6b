package step

import (
	"fmt"
	"math"
	"time"

	"github.com/xraph/courier/id"
)

// Type identifies what a step does.
type Type string

const (
	// SMS delivers a text message.
	SMS Type = "sms"
	// Email delivers an email with an optional subject.
	Email Type = "email"
	// Push delivers a mobile push notification.
	Push Type = "push"
	// InApp delivers an in-app feed entry.
	InApp Type = "in_app"
	// Chat delivers a chat message.
	Chat Type = "chat"
	// Delay holds the chain for a fixed duration.
	Delay Type = "delay"
	// Digest holds the chain while events are collected.
	Digest Type = "digest"
)

// Types lists every known step type.
var Types = []Type{SMS, Email, Push, InApp, Chat, Delay, Digest}

// Valid reports whether t is a known step type.
func (t Type) Valid() bool {
	switch t {
	case SMS, Email, Push, InApp, Chat, Delay, Digest:
		return true
	}
	return false
}

// IsDeferred reports whether jobs of this type wait for a due time instead of
// being queued immediately.
func (t Type) IsDeferred() bool { return t == Delay || t == Digest }

// IsChannel reports whether jobs of this type deliver a message.
func (t Type) IsChannel() bool { return t.Valid() && !t.IsDeferred() }

// Unit is the time unit of a deferred step amount.
type Unit string

const (
	Seconds Unit = "seconds"
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
	Days    Unit = "days"
	Weeks   Unit = "weeks"
	Months  Unit = "months"
)

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	switch u {
	case Seconds, Minutes, Hours, Days, Weeks, Months:
		return true
	}
	return false
}

// maxWait is the longest wait a step may ask for. It is the largest
// time.Duration, so every unit converts without overflowing.
const maxWait = time.Duration(math.MaxInt64)

// MaxAmount returns the largest amount of u that stays within maxWait, or 0
// for an unknown unit.
func (u Unit) MaxAmount() int {
	const day = 24 * time.Hour
	per := map[Unit]time.Duration{
		Seconds: time.Second,
		Minutes: time.Minute,
		Hours:   time.Hour,
		Days:    day,
		Weeks:   7 * day,
		Months:  31 * day,
	}[u]
	if per == 0 {
		return 0
	}
	return int(maxWait / per)
}

// After returns the time amount units after from. Weeks are seven days and
// months follow the calendar. Amounts outside [0, MaxAmount] are rejected.
func (u Unit) After(from time.Time, amount int) (time.Time, error) {
	if u.Valid() && (amount < 0 || amount > u.MaxAmount()) {
		return time.Time{}, fmt.Errorf("step: amount %d %s out of range [0, %d]", amount, u, u.MaxAmount())
	}
	switch u {
	case Seconds:
		return from.Add(time.Duration(amount) * time.Second), nil
	case Minutes:
		return from.Add(time.Duration(amount) * time.Minute), nil
	case Hours:
		return from.Add(time.Duration(amount) * time.Hour), nil
	case Days:
		return from.AddDate(0, 0, amount), nil
	case Weeks:
		return from.AddDate(0, 0, 7*amount), nil
	case Months:
		return from.AddDate(0, amount, 0), nil
	default:
		return time.Time{}, fmt.Errorf("step: unknown unit %q", u)
	}
}

// DigestType selects how a digest step computes its due time.
type DigestType string

const (
	// DigestRegular waits Amount Units.
	DigestRegular DigestType = "regular"
	// DigestBackoff is scheduled like DigestRegular.
	DigestBackoff DigestType = "backoff"
	// DigestTimed waits for the next activation of Cron.
	DigestTimed DigestType = "timed"
)

// Metadata configures deferred steps.
type Metadata struct {
	Amount    int        `json:"amount,omitempty" toml:"amount"`
	Unit      Unit       `json:"unit,omitempty" toml:"unit"`
	Type      DigestType `json:"type,omitempty" toml:"type"`
	Cron      string     `json:"cron,omitempty" toml:"cron"`
	DigestKey string     `json:"digest_key,omitempty" toml:"digest_key"`
}

// Timed reports whether the metadata describes a cron-scheduled digest.
func (m Metadata) Timed() bool { return m.Type == DigestTimed }

// Step is one element of a template.
type Step struct {
	Type     Type     `json:"type" toml:"type"`
	Content  string   `json:"content,omitempty" toml:"content"`
	Subject  string   `json:"subject,omitempty" toml:"subject"`
	Metadata Metadata `json:"metadata" toml:"metadata"`
}

// Template is a named, ordered list of steps.
type Template struct {
	ID    id.TemplateID `json:"id" toml:"id"`
	Name  string        `json:"name" toml:"name"`
	Steps []Step        `json:"steps" toml:"steps"`
}
