// Package errdefs defines the gateway error taxonomy.
//
// Every failure that crosses a package boundary is classified into one of a
// fixed set of kinds, each with a stable HTTP status. Provider adapters
// normalise backend failures into this taxonomy so the HTTP layer never leaks
// raw backend status codes to clients.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of gateway error.
type Kind string

const (
	KindInvalidPath        Kind = "InvalidPath"
	KindInvalidArgument    Kind = "InvalidArgument"
	KindUnauthorized       Kind = "Unauthorized"
	KindForbidden          Kind = "Forbidden"
	KindNotFound           Kind = "NotFound"
	KindNotSupported       Kind = "NotSupported"
	KindNamingConflict     Kind = "NamingConflict"
	KindGone               Kind = "Gone"
	KindLengthRequired     Kind = "LengthRequired"
	KindPayloadTooLarge    Kind = "PayloadTooLarge"
	KindUploadIncomplete   Kind = "UploadIncomplete"
	KindHashMismatch       Kind = "HashMismatch"
	KindRateLimited        Kind = "RateLimited"
	KindStorageFull        Kind = "StorageFull"
	KindNotImplemented     Kind = "NotImplemented"
	KindServiceUnavailable Kind = "ServiceUnavailable"
	KindProviderError      Kind = "ProviderError"
	KindUnexpected         Kind = "Unexpected"
)

// statusByKind is the fixed kind-to-HTTP mapping. UploadIncomplete is a
// client error (the declared length and the received bytes disagree), so it
// maps to 400 rather than a 5xx.
var statusByKind = map[Kind]int{
	KindInvalidPath:        http.StatusBadRequest,
	KindInvalidArgument:    http.StatusBadRequest,
	KindUnauthorized:       http.StatusUnauthorized,
	KindForbidden:          http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindNotSupported:       http.StatusMethodNotAllowed,
	KindNamingConflict:     http.StatusConflict,
	KindGone:               http.StatusGone,
	KindLengthRequired:     http.StatusLengthRequired,
	KindPayloadTooLarge:    http.StatusRequestEntityTooLarge,
	KindUploadIncomplete:   http.StatusBadRequest,
	KindHashMismatch:       http.StatusInternalServerError,
	KindRateLimited:        http.StatusTooManyRequests,
	KindStorageFull:        http.StatusInsufficientStorage,
	KindNotImplemented:     http.StatusNotImplemented,
	KindServiceUnavailable: http.StatusServiceUnavailable,
	KindProviderError:      http.StatusBadGateway,
	KindUnexpected:         http.StatusInternalServerError,
}

// Error is a classified gateway error. Data carries optional provider-neutral
// context surfaced to the client (for example the conflicting name on a 409).
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status for the error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// With attaches a context value surfaced in the error body and returns the
// receiver for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any, 1)
	}
	e.Data[key] = value
	return e
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error without losing it: the result unwraps
// to cause. A nil cause is allowed and equivalent to New.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// InvalidPath reports a malformed or kind-mismatched raw path.
func InvalidPath(format string, args ...any) *Error {
	return New(KindInvalidPath, format, args...)
}

// InvalidArgument reports a bad query parameter or request body.
func InvalidArgument(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

// Unauthorized reports missing or invalid caller credentials.
func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

// Forbidden reports valid credentials lacking permission.
func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

// NotFound reports a missing entity, including trailing-slash kind mismatches.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// NotSupported reports an operation the provider cannot perform at all.
func NotSupported(format string, args ...any) *Error {
	return New(KindNotSupported, format, args...)
}

// NamingConflict reports a destination name collision.
func NamingConflict(format string, args ...any) *Error {
	return New(KindNamingConflict, format, args...)
}

// Gone reports an entity the backend says existed but no longer does.
func Gone(format string, args ...any) *Error {
	return New(KindGone, format, args...)
}

// LengthRequired reports an upload without Content-Length or chunked encoding.
func LengthRequired(format string, args ...any) *Error {
	return New(KindLengthRequired, format, args...)
}

// PayloadTooLarge reports a request body over the configured cap.
func PayloadTooLarge(format string, args ...any) *Error {
	return New(KindPayloadTooLarge, format, args...)
}

// UploadIncomplete reports fewer (or more) bytes received than the stream declared.
func UploadIncomplete(format string, args ...any) *Error {
	return New(KindUploadIncomplete, format, args...)
}

// HashMismatch reports disagreeing content digests after a streaming copy.
func HashMismatch(format string, args ...any) *Error {
	return New(KindHashMismatch, format, args...)
}

// RateLimited reports a denied request in the current rate window.
func RateLimited(format string, args ...any) *Error {
	return New(KindRateLimited, format, args...)
}

// StorageFull reports a destination filesystem without room for the incoming bytes.
func StorageFull(format string, args ...any) *Error {
	return New(KindStorageFull, format, args...)
}

// NotImplemented reports a contract operation the adapter has not implemented.
func NotImplemented(format string, args ...any) *Error {
	return New(KindNotImplemented, format, args...)
}

// Unavailable reports an unreachable dependency (auth provider, rate-limit store).
func Unavailable(format string, args ...any) *Error {
	return New(KindServiceUnavailable, format, args...)
}

// ProviderError reports a misbehaving storage backend.
func ProviderError(format string, args ...any) *Error {
	return New(KindProviderError, format, args...)
}

// Unexpected reports an internal failure with no better classification.
func Unexpected(format string, args ...any) *Error {
	return New(KindUnexpected, format, args...)
}

// KindOf extracts the kind from an error chain. Unclassified errors report
// KindUnexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Status maps any error onto an HTTP status. Unclassified errors become 500.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	return http.StatusInternalServerError
}

// FromStatus normalises a backend HTTP status into the taxonomy. Adapters
// call this for responses they do not handle specially; 5xx and unknown
// client statuses become ProviderError so backend codes never reach clients
// unmapped.
func FromStatus(status int, format string, args ...any) *Error {
	var kind Kind
	switch status {
	case http.StatusBadRequest:
		kind = KindInvalidArgument
	case http.StatusUnauthorized:
		kind = KindUnauthorized
	case http.StatusForbidden:
		kind = KindForbidden
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusMethodNotAllowed:
		kind = KindNotSupported
	case http.StatusConflict:
		kind = KindNamingConflict
	case http.StatusGone:
		kind = KindGone
	case http.StatusRequestEntityTooLarge:
		kind = KindPayloadTooLarge
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	case http.StatusNotImplemented:
		kind = KindNotImplemented
	case http.StatusServiceUnavailable:
		kind = KindServiceUnavailable
	default:
		kind = KindProviderError
	}
	e := New(kind, format, args...)
	e.With("status", status)
	return e
}
