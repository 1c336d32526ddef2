// Package errs provides structured error types shared across the GENA
// control-point stack.
package errs

import (
	"sort"
	"strconv"
	"strings"
)

// Code identifies a GENA-specific error category, matching the error
// kinds enumerated by the GENA wire-protocol and pool contracts.
type Code string

const (
	// CodeNotFound indicates a handle or subscription id is unknown.
	CodeNotFound Code = "not_found"
	// CodeNetwork indicates a transport failure (DNS, connect, write, read, timeout).
	CodeNetwork Code = "network"
	// CodeExchange indicates the remote publisher rejected a request.
	CodeExchange Code = "publisher_rejected"
	// CodeInvalid indicates malformed input or a malformed response.
	CodeInvalid Code = "invalid"
	// CodeUnavailable indicates the local pool/timer has no capacity to service the request.
	CodeUnavailable Code = "unavailable"
)

// Canonical captures the caller-facing, exchange-agnostic failure category.
type Canonical string

const (
	// CanonicalUnknown is the default, uncategorized canonical code.
	CanonicalUnknown Canonical = "unknown"
	// CanonicalHandleNotFound maps to spec.md's BadHandle.
	CanonicalHandleNotFound Canonical = "bad_handle"
	// CanonicalSidNotFound maps to spec.md's BadSid.
	CanonicalSidNotFound Canonical = "bad_sid"
	// CanonicalSubscribeRejected maps to spec.md's SubscribeUnaccepted.
	CanonicalSubscribeRejected Canonical = "subscribe_unaccepted"
	// CanonicalUnsubscribeRejected maps to spec.md's UnsubscribeUnaccepted.
	CanonicalUnsubscribeRejected Canonical = "unsubscribe_unaccepted"
	// CanonicalTooManyJobs maps to spec.md's TooManyJobs.
	CanonicalTooManyJobs Canonical = "too_many_jobs"
	// CanonicalNoCapacity maps to spec.md's NoCapacity.
	CanonicalNoCapacity Canonical = "no_capacity"
	// CanonicalInvalidPolicy maps to spec.md's InvalidPolicy.
	CanonicalInvalidPolicy Canonical = "invalid_policy"
)

// E captures structured error information produced across the GENA stack.
type E struct {
	Component   string
	Code        Code
	HTTP        int
	Message     string
	Canonical   Canonical
	Remediation string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given component and code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Canonical: CanonicalUnknown,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) { e.Message = trimmed }
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) { e.Remediation = trimmed }
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) { e.HTTP = status }
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

// WithCanonicalCode sets the canonical error code describing the failure category.
func WithCanonicalCode(code Canonical) Option {
	return func(e *E) {
		if strings.TrimSpace(string(code)) == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = code
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "genacp"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *E) Unwrap() error { return e.cause }

// Is reports whether target is an *E with the same Canonical code, so
// callers can test errors.Is(err, sentinel) against a sentinel *E built
// with New and WithCanonicalCode (for example CanonicalSidNotFound)
// instead of string comparison.
func (e *E) Is(target error) bool {
	other, ok := target.(*E)
	if !ok {
		return false
	}
	if other.Canonical != CanonicalUnknown && other.Canonical == e.Canonical {
		return true
	}
	return false
}

// IsCanonical reports whether err is an *E carrying the given canonical code.
func IsCanonical(err error, code Canonical) bool {
	e, ok := err.(*E)
	if !ok {
		return false
	}
	return e.Canonical == code
}

// SortedKeys is a small shared helper used by packages that need
// deterministic iteration over string-keyed maps when formatting errors.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
