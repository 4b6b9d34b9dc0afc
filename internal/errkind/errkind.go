// Package errkind classifies failures structurally so callers can react to
// the kind of error rather than pattern-matching message text.
package errkind

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
)

type Kind string

const (
	KindNetwork    Kind = "network"
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// Error carries a kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify walks the error chain and returns the most specific known kind.
// Unknown errors report KindInternal.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var kindErr *Error
	if errors.As(err, &kindErr) {
		return kindErr.Kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	if errors.Is(err, sql.ErrNoRows) {
		return KindNotFound
	}
	return KindInternal
}

// Is reports whether err classifies as the given kind.
func Is(err error, kind Kind) bool {
	return Classify(err) == kind
}
