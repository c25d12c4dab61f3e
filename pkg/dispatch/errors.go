package dispatch

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse marks a provider response body that was present but not
// parseable as the documented shape. Dispatchers degrade these to an
// unknown-error SendResult; token-exchange code wraps this sentinel so callers
// can tell a garbled body apart from a provider rejection.
var ErrMalformedResponse = errors.New("malformed provider response")

// CredentialError reports unusable credential material: an unparsable private
// key, a wrong curve, or a failed signing operation. Fatal and non-retryable;
// retrying with the same credential can never succeed.
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("credential error: %s", e.Reason)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// TransportError reports a failed network round trip: connection refused,
// timeout, protocol negotiation failure, context cancellation. Retryable at
// the caller's discretion; the gateway never retries internally.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError reports a rejected token exchange: either a non-2xx HTTP status
// from the OAuth endpoint, or a 200 body carrying a non-zero provider error
// code. The provider's code/sub-code/description are carried verbatim so the
// caller can decide whether new credentials or backoff are warranted.
type AuthError struct {
	StatusCode  int
	Code        int
	SubCode     int
	Description string
}

func (e *AuthError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("auth rejected: provider error %d/%d: %s", e.Code, e.SubCode, e.Description)
	}
	return fmt.Sprintf("auth rejected: status %d: %s", e.StatusCode, e.Description)
}
