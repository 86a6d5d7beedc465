// Package cerr defines the error taxonomy shared by the consent core.
// Callers classify failures with KindOf and map them to transport codes.
package cerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
	KindNotApproved
	KindExpired
	KindExhausted
	KindCrypto
	KindInconsistent
)

// String returns a stable label for log fields.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindNotApproved:
		return "not_approved"
	case KindExpired:
		return "expired"
	case KindExhausted:
		return "exhausted"
	case KindCrypto:
		return "crypto"
	case KindInconsistent:
		return "inconsistent"
	default:
		return "unknown"
	}
}

// Error carries a kind plus a caller-facing message. Wrapped causes are
// preserved for logging but are not part of the message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error { return newf(KindValidation, format, args...) }
func NotFound(format string, args ...any) error   { return newf(KindNotFound, format, args...) }
func Conflict(format string, args ...any) error   { return newf(KindConflict, format, args...) }
func Forbidden(format string, args ...any) error  { return newf(KindForbidden, format, args...) }
func NotApproved(format string, args ...any) error {
	return newf(KindNotApproved, format, args...)
}
func Expired(format string, args ...any) error   { return newf(KindExpired, format, args...) }
func Exhausted(format string, args ...any) error { return newf(KindExhausted, format, args...) }

// Crypto wraps a low-level crypto failure. The cause is kept for logs; the
// message is what callers may expose.
func Crypto(err error, msg string) error {
	return &Error{Kind: KindCrypto, Msg: msg, Err: err}
}

// Inconsistent marks a multi-step write that partially completed.
func Inconsistent(format string, args ...any) error {
	return newf(KindInconsistent, format, args...)
}

// KindOf extracts the Kind from err, or KindUnknown for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }
