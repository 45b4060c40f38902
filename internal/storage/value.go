package storage

import "errors"

// Storage-level errors surfaced to the command layer.
var (
	// ErrWrongType is returned when an operation is applied to a key
	// holding the other value kind. There is no implicit conversion.
	ErrWrongType = errors.New("storage: operation against a key holding the wrong kind of value")

	// ErrNoSuchList is returned by LRange when the key does not exist.
	ErrNoSuchList = errors.New("storage: no list found")
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	// KindString is an opaque binary-safe byte sequence.
	KindString Kind = iota + 1
	// KindList is an insertion-ordered sequence of byte strings.
	KindList
)

// Value is the tagged union stored under a key. Exactly one variant is
// populated, determined by Kind; the kind is fixed by whichever command
// created the key and only changes when Set overwrites it.
type Value struct {
	Kind Kind
	Str  []byte
	List [][]byte
}

func newStringValue(b []byte) *Value {
	return &Value{Kind: KindString, Str: b}
}

func newListValue(elems ...[]byte) *Value {
	return &Value{Kind: KindList, List: elems}
}
