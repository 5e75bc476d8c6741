package transfer

import (
	"errors"
	"fmt"
)

// Kind classifies a transfer error for retry and reporting decisions.
type Kind uint8

const (
	// KindValidation marks oversized input, malformed codes, or frame
	// mismatches. Fails fast, never retried.
	KindValidation Kind = iota
	// KindCrypto marks key generation, import, wrap, unwrap, or decrypt
	// failures.
	KindCrypto
	// KindTransport marks channel send failures and unexpected closes.
	// Retried with exponential backoff up to the configured limit.
	KindTransport
	// KindTimeout marks handshake or per-chunk receive timeouts.
	KindTimeout
	// KindCancelled marks explicit caller cancellation. Always terminal.
	KindCancelled
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCrypto:
		return "crypto"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified transfer error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidation wraps err as a validation error.
func NewValidation(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// NewCrypto wraps err as a crypto error.
func NewCrypto(op string, err error) *Error {
	return &Error{Kind: KindCrypto, Op: op, Err: err}
}

// NewTransport wraps err as a transport error.
func NewTransport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// NewTimeout wraps err as a timeout error.
func NewTimeout(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

// NewCancelled wraps err as a cancellation error.
func NewCancelled(op string, err error) *Error {
	return &Error{Kind: KindCancelled, Op: op, Err: err}
}

// KindOf extracts the kind from a classified error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
