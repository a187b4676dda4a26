package engine

import "fmt"

// Kind tags one of §7's error taxonomy entries (not a concrete Go type
// per entry, a single tagged error instead).
type Kind string

const (
	KindValidation    Kind = "downstream_validation"
	KindAuthentication Kind = "authentication"
	KindDispatch      Kind = "dispatch"
	KindPool          Kind = "pool"
	KindTransform     Kind = "transform"
	KindUpstream      Kind = "upstream_transport_error"
	KindUpstreamHTTP  Kind = "upstream_http_error"
	KindProvider      Kind = "provider_internal"
	KindStorage       Kind = "storage_error"
)

// Error is the engine's single error type, carrying the §7 kind, an HTTP
// status to surface, and a machine-readable code used as the JSON error
// body's top-level string where one applies.
type Error struct {
	Kind   Kind
	Status int
	Code   string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func newErr(kind Kind, status int, code, detail string) *Error {
	return &Error{Kind: kind, Status: status, Code: code, Detail: detail}
}

// ErrProviderNotFound is returned when the {provider} path segment
// doesn't resolve against the current snapshot.
func ErrProviderNotFound(name string) *Error {
	return newErr(KindDispatch, 404, "provider_not_found", name)
}

// ErrProviderDisabled is returned for a silently-skippable aggregate-fan-out
// failure (spec §6.1's silent-error list).
func ErrProviderDisabled(name string) *Error {
	return newErr(KindDispatch, 404, "provider_disabled", name)
}

// ErrUnsupportedOperation is returned when the dispatch table has no
// rule, or an explicit Unsupported rule, for (protocol, operation).
func ErrUnsupportedOperation(proto, op string) *Error {
	return newErr(KindDispatch, 501, "unsupported_operation", proto+"/"+op)
}

// ErrNoActiveCredentials is returned when the pool has no available
// member (spec §7 item 4, surfaced directly to the client).
func ErrNoActiveCredentials() *Error {
	return newErr(KindPool, 503, "no_active_credentials", "")
}

// ErrTransform wraps a request/response decode-or-convert failure.
func ErrTransform(stage string, cause error) *Error {
	status := 400
	if stage == "response" {
		status = 500
	}
	return newErr(KindTransform, status, "transform_error", cause.Error())
}
