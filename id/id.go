// Package id names the off-ledger things a crank worker creates: rounds,
// attempts and event stream subscribers. IDs are TypeIDs such as
// "round_01h2xcejqtf2nbrexx3vqjhp41". The suffix is a UUIDv7, so IDs of
// one kind sort by creation time. Ledger accounts use ledger.Address.
package id

import (
	"errors"
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefix is the TypeID prefix naming an ID's kind.
type Prefix string

const (
	PrefixRound   Prefix = "round"
	PrefixAttempt Prefix = "att"
	PrefixStream  Prefix = "sub"
)

// ID is a prefixed TypeID. The zero value is Nil and renders as "".
type ID struct {
	tid typeid.TypeID
	ok  bool
}

// Nil is the absent ID.
var Nil ID

type (
	RoundID      = ID
	AttemptID    = ID
	SubscriberID = ID
)

// New mints an ID. An invalid prefix is a programming error and panics.
func New(p Prefix) ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", p, err))
	}
	return ID{tid: tid, ok: true}
}

func NewRoundID() ID      { return New(PrefixRound) }
func NewAttemptID() ID    { return New(PrefixAttempt) }
func NewSubscriberID() ID { return New(PrefixStream) }

// Parse accepts any well-formed TypeID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, errors.New("id: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, ok: true}, nil
}

// ParseRoundID parses a "round_" ID.
func ParseRoundID(s string) (ID, error) { return parseKind(s, PrefixRound) }

// ParseAttemptID parses an "att_" ID.
func ParseAttemptID(s string) (ID, error) { return parseKind(s, PrefixAttempt) }

func parseKind(s string, want Prefix) (ID, error) {
	i, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := i.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q is a %q id, want %q", s, got, want)
	}
	return i, nil
}

func (i ID) String() string {
	if !i.ok {
		return ""
	}
	return i.tid.String()
}

func (i ID) Prefix() Prefix {
	if !i.ok {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.ok }

// Compare orders IDs of the same kind by creation time at millisecond
// resolution. Nil sorts first.
func (i ID) Compare(o ID) int {
	return strings.Compare(i.String(), o.String())
}

func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText treats empty input as Nil.
func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
