package cartage

import (
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates the business conditions raised by Cartage and Cart.
type Kind string

const (
	KindNotAuthorized Kind = "not_authorized"
	KindCartNotFound  Kind = "cart_not_found"
	KindCartExists    Kind = "cart_exists"
	KindCartFinalized Kind = "cart_finalized"
	KindLineNotFound  Kind = "line_not_found"
)

// Sentinels usable with errors.Is.
var (
	ErrNotAuthorized = &Error{Kind: KindNotAuthorized}
	ErrCartNotFound  = &Error{Kind: KindCartNotFound}
	ErrCartExists    = &Error{Kind: KindCartExists}
	ErrCartFinalized = &Error{Kind: KindCartFinalized}
	ErrLineNotFound  = &Error{Kind: KindLineNotFound}
)

// Error is a business-rule failure. Store failures are never converted into
// an Error; they reach the caller as returned by the store.
type Error struct {
	Kind    Kind
	Op      string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Kind)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Kind)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Kind)
	default:
		return string(e.Kind)
	}
}

// Is matches any *Error of the same Kind, so the package sentinels work with
// errors.Is regardless of Op and Message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, op, format string, args ...interface{}) error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf extracts the Kind of err, or "" when err is not a business error.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}
