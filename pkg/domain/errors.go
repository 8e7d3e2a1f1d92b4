package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an operation targets an absent id.
	ErrNotFound = errors.New("memory not found")
	// ErrDuplicateID is returned when a record's id is already taken.
	ErrDuplicateID = errors.New("memory id already exists")
)

// ValidationError lists every rule a record violated.
type ValidationError struct {
	// Record identifies the offending record within a batch, e.g. "at index 3 (id 17)".
	// Empty for single-record operations.
	Record   string
	Fields   []string
	Problems []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid memory")
	if e.Record != "" {
		b.WriteString(" ")
		b.WriteString(e.Record)
	}
	if len(e.Problems) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Problems, "; "))
	}
	return b.String()
}

// HasField reports whether name was flagged.
func (e *ValidationError) HasField(name string) bool {
	for _, f := range e.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// FormatError signals an import payload that is not a JSON array.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid memories format: %s: %v", e.Reason, e.Err)
	}
	return "invalid memories format: " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

// PersistenceError wraps a failure of the underlying slot storage.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist memories (%s %s): %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
