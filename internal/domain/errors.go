package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gateway failure. The set is closed: callers switch on
// the kind rather than on concrete error types or provider-specific causes.
type ErrorKind string

const (
	KindInvalidAmount        ErrorKind = "invalid_amount"
	KindUnsupportedCurrency  ErrorKind = "unsupported_currency"
	KindNetworkError         ErrorKind = "network_error"
	KindTimeout              ErrorKind = "timeout"
	KindProviderRejected     ErrorKind = "provider_rejected"
	KindAuthenticationFailed ErrorKind = "authentication_failed"
	KindUnknownTransaction   ErrorKind = "unknown_transaction"
	KindIllegalTransition    ErrorKind = "illegal_transition"
	KindNoGatewayConfigured  ErrorKind = "no_gateway_configured"
	KindAmbiguousGateway     ErrorKind = "ambiguous_gateway"
)

// GatewayError is the single failure type every gateway operation returns.
// Cause is diagnostic only; correct handling never needs to inspect it.
type GatewayError struct {
	Kind   ErrorKind
	Detail string
	Cause  error
}

func (e *GatewayError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// Is matches any *GatewayError carrying the same kind, so sentinel values like
// ErrUnknownTransaction work with errors.Is across wrapping.
func (e *GatewayError) Is(target error) bool {
	ge, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Kind == ge.Kind
}

func NewError(kind ErrorKind, detail string) *GatewayError {
	return &GatewayError{Kind: kind, Detail: detail}
}

func WrapError(kind ErrorKind, detail string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Detail: detail, Cause: cause}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidAmount        = &GatewayError{Kind: KindInvalidAmount}
	ErrUnsupportedCurrency  = &GatewayError{Kind: KindUnsupportedCurrency}
	ErrNetworkError         = &GatewayError{Kind: KindNetworkError}
	ErrTimeout              = &GatewayError{Kind: KindTimeout}
	ErrProviderRejected     = &GatewayError{Kind: KindProviderRejected}
	ErrAuthenticationFailed = &GatewayError{Kind: KindAuthenticationFailed}
	ErrUnknownTransaction   = &GatewayError{Kind: KindUnknownTransaction}
	ErrIllegalTransition    = &GatewayError{Kind: KindIllegalTransition}
	ErrNoGatewayConfigured  = &GatewayError{Kind: KindNoGatewayConfigured}
	ErrAmbiguousGateway     = &GatewayError{Kind: KindAmbiguousGateway}
)

// KindOf extracts the ErrorKind from err, unwrapping as needed.
func KindOf(err error) (ErrorKind, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

// RetrySafe reports whether the caller may safely retry the failed purchase.
// Only transport failures qualify, and only when an idempotency key was
// supplied; without one the outcome is unknown and a blind retry can
// double-charge.
func RetrySafe(err error, opts Options) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	if kind != KindNetworkError && kind != KindTimeout {
		return false
	}
	_, hasKey := opts.IdempotencyKey()
	return hasKey
}
