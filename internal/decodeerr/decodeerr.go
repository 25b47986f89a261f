// Package decodeerr provides the structured error returned by every replay
// decoding layer.
package decodeerr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable decode failure class.
type Kind string

const (
	KindUnexpectedEndOfStream  Kind = "UNEXPECTED_END_OF_STREAM"
	KindMalformedStructure     Kind = "MALFORMED_STRUCTURE"
	KindInvalidHeader          Kind = "INVALID_HEADER"
	KindUnknownField           Kind = "UNKNOWN_FIELD"
	KindInconsistentActorState Kind = "INCONSISTENT_ACTOR_STATE"
	KindFieldRangeViolation    Kind = "FIELD_RANGE_VIOLATION"
	KindTimeout                Kind = "TIMEOUT"
)

// Recoverable reports whether a failure of this kind only skips the affected
// field or sample instead of aborting the tier.
func (k Kind) Recoverable() bool {
	return k == KindUnknownField || k == KindFieldRangeViolation
}

// Tier identifies the processing tier an error surfaced in.
type Tier string

const (
	TierUnknown   Tier = ""
	TierHeader    Tier = "header"
	TierNetstream Tier = "netstream"
)

// Error is a decode failure with its kind, the tier it occurred in and the
// bit offset of the reader when it was raised (-1 when not applicable).
type Error struct {
	Kind   Kind
	Tier   Tier
	Op     string
	Offset int64
	Msg    string
	Cause  error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrUnexpectedEndOfStream  = &Error{Kind: KindUnexpectedEndOfStream}
	ErrMalformedStructure     = &Error{Kind: KindMalformedStructure}
	ErrInvalidHeader          = &Error{Kind: KindInvalidHeader}
	ErrUnknownField           = &Error{Kind: KindUnknownField}
	ErrInconsistentActorState = &Error{Kind: KindInconsistentActorState}
	ErrFieldRangeViolation    = &Error{Kind: KindFieldRangeViolation}
	ErrTimeout                = &Error{Kind: KindTimeout}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Offset >= 0 && e.Op != "" {
		msg += fmt.Sprintf(" (bit %d)", e.Offset)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a decode error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, op string, offset int64, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Op:     op,
		Offset: offset,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Offset: -1, Cause: cause}
}

// KindOf returns the kind of the first decode error in err's chain.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// WithTier stamps the tier on the first decode error in err's chain. Errors
// that are not decode errors are wrapped as MalformedStructure so callers
// always receive a classified failure.
func WithTier(err error, tier Tier) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		if de.Tier == TierUnknown {
			de.Tier = tier
		}
		return err
	}
	wrapped := Wrap(KindMalformedStructure, "", err)
	wrapped.Tier = tier
	return wrapped
}
