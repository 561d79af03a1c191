package transport

import (
	"fmt"

	"github.com/scylladb/scylla-go-driver/frame"
)

type TooManyValuesError struct{ Required int }

func (e *TooManyValuesError) Error() string {
	return fmt.Sprintf("transport: too many values: statement expects %d", e.Required)
}

type TooFewValuesError struct{ Required, Provided int }

func (e *TooFewValuesError) Error() string {
	return fmt.Sprintf("transport: too few values: statement expects %d, got %d", e.Required, e.Provided)
}

type NoSuchIndexError struct{ Index int }

func (e *NoSuchIndexError) Error() string {
	return fmt.Sprintf("transport: no bind marker at index %d", e.Index)
}

type DuplicatedValueError struct {
	Index int
	Name  string
}

func (e *DuplicatedValueError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("transport: value for parameter %q already bound", e.Name)
	}
	return fmt.Sprintf("transport: value at index %d already bound", e.Index)
}

type MissingValueAtIndexError struct{ Index int }

func (e *MissingValueAtIndexError) Error() string {
	return fmt.Sprintf("transport: missing value at index %d", e.Index)
}

type NoSuchNameError struct{ Name string }

func (e *NoSuchNameError) Error() string {
	return fmt.Sprintf("transport: no bind marker named %q", e.Name)
}

type MissingValueForParameterError struct{ Name string }

func (e *MissingValueForParameterError) Error() string {
	return fmt.Sprintf("transport: missing value for parameter %q", e.Name)
}

// AppendingBinder accepts values in declared column order: the short-hand
// binding style used for a statement whose caller supplies arguments in
// exactly the order PREPARE reported them. It clones stmt so the original
// statement's Values are left untouched.
type AppendingBinder struct {
	stmt Statement
	next int
}

func NewAppendingBinder(stmt Statement) *AppendingBinder {
	s := stmt.Clone()
	return &AppendingBinder{stmt: s}
}

// Append serializes v against the next column's declared type and appends it.
func (b *AppendingBinder) Append(v frame.Serializer) error {
	cols := b.stmt.Metadata.Columns
	if b.next >= len(cols) {
		return &TooManyValuesError{Required: len(cols)}
	}
	typ := cols[b.next].Type
	n, bytes, err := v.Serialize(typ)
	if err != nil {
		return err
	}
	b.stmt.Values[b.next] = frame.Value{Type: typ, N: n, Bytes: bytes}
	b.next++
	return nil
}

// Finish validates arity and returns the bound statement.
func (b *AppendingBinder) Finish() (Statement, error) {
	required := len(b.stmt.Metadata.Columns)
	if b.next < required {
		return Statement{}, &TooFewValuesError{Required: required, Provided: b.next}
	}
	return b.stmt, nil
}

// ByIndexBinder fills a statement's bind markers by explicit index, tracking
// which have been set so Finish can reject gaps.
type ByIndexBinder struct {
	stmt   Statement
	filled []bool
}

func NewByIndexBinder(stmt Statement) *ByIndexBinder {
	s := stmt.Clone()
	return &ByIndexBinder{stmt: s, filled: make([]bool, len(s.Values))}
}

func (b *ByIndexBinder) Bind(index int, v frame.Serializer) error {
	if index < 0 || index >= len(b.stmt.Values) {
		return &NoSuchIndexError{Index: index}
	}
	if b.filled[index] {
		return &DuplicatedValueError{Index: index}
	}
	typ := b.stmt.Metadata.Columns[index].Type
	n, bytes, err := v.Serialize(typ)
	if err != nil {
		return err
	}
	b.stmt.Values[index] = frame.Value{Type: typ, N: n, Bytes: bytes}
	b.filled[index] = true
	return nil
}

func (b *ByIndexBinder) Finish() (Statement, error) {
	for i, ok := range b.filled {
		if !ok {
			return Statement{}, &MissingValueAtIndexError{Index: i}
		}
	}
	return b.stmt, nil
}

// ByNameBinder is the by-index binder's twin, addressed by column name.
type ByNameBinder struct {
	inner *ByIndexBinder
}

func NewByNameBinder(stmt Statement) *ByNameBinder {
	return &ByNameBinder{inner: NewByIndexBinder(stmt)}
}

func (b *ByNameBinder) indexOf(name string) (int, bool) {
	for i, c := range b.inner.stmt.Metadata.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

func (b *ByNameBinder) Bind(name string, v frame.Serializer) error {
	idx, ok := b.indexOf(name)
	if !ok {
		return &NoSuchNameError{Name: name}
	}
	if b.inner.filled[idx] {
		return &DuplicatedValueError{Name: name}
	}
	return b.inner.Bind(idx, v)
}

func (b *ByNameBinder) Finish() (Statement, error) {
	for i, ok := range b.inner.filled {
		if !ok {
			return Statement{}, &MissingValueForParameterError{Name: b.inner.stmt.Metadata.Columns[i].Name}
		}
	}
	return b.inner.Finish()
}
