// Package id provides the prefixed, sortable identifiers used by courier
// records. An ID prints as "prefix_suffix", where the suffix is a UUIDv7 in
// base32, so IDs of one kind sort by creation time.
package id

import (
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the kind of record an ID belongs to.
type Prefix string

const (
	PrefixJob      Prefix = "job"
	PrefixMessage  Prefix = "msg"
	PrefixTemplate Prefix = "tpl"
	PrefixWorker   Prefix = "wkr"
)

// ID identifies a courier record. The zero value is Nil and marshals to an
// empty string, which is how an absent predecessor is stored.
//
//nolint:recvcheck // UnmarshalText needs a pointer receiver.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the absent ID.
var Nil ID

// Aliases naming what an ID refers to at a use site.
type (
	JobID      = ID
	MessageID  = ID
	TemplateID = ID
	WorkerID   = ID
)

var errEmpty = errors.New("empty string")

// New returns a fresh ID. It panics on a malformed prefix, which only a
// programming error can produce.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{tid: tid, set: true}
}

func NewJobID() ID      { return New(PrefixJob) }
func NewMessageID() ID  { return New(PrefixMessage) }
func NewTemplateID() ID { return New(PrefixTemplate) }
func NewWorkerID() ID   { return New(PrefixWorker) }

// Parse accepts any well-formed ID regardless of prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: %w", errEmpty)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseWithPrefix parses s and requires it to be of kind want.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := v.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q is a %s id, want %s", s, got, want)
	}
	return v, nil
}

// ParseNullable is ParseWithPrefix that maps "" to Nil.
func ParseNullable(s string, want Prefix) (ID, error) {
	if s == "" {
		return Nil, nil
	}
	return ParseWithPrefix(s, want)
}

func ParseJobID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixJob) }
func ParseMessageID(s string) (ID, error)  { return ParseWithPrefix(s, PrefixMessage) }
func ParseTemplateID(s string) (ID, error) { return ParseWithPrefix(s, PrefixTemplate) }
func ParseWorkerID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixWorker) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the kind of the ID, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the absent ID.
func (i ID) IsNil() bool { return !i.set }

// Equal reports whether i and other name the same record.
func (i ID) Equal(other ID) bool { return i.String() == other.String() }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	v, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Compare orders IDs by their string form, which for one prefix is creation
// order at millisecond precision.
func Compare(a, b ID) int {
	as, bs := a.String(), b.String()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}
