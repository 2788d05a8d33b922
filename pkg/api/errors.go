package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind partitions registry failures into the categories the HTTP edge
// knows how to map to status codes. Backends return these; the request glue
// performs the mapping exactly once.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindVersionExists
	KindPayloadTooLarge
	KindConflict
	KindStorageIO
	KindIndexIO
	KindAuthIO
	KindShuttingDown
)

// String returns the kind's name for logs and metrics labels.
func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindVersionExists:
		return "version_exists"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindConflict:
		return "conflict"
	case KindStorageIO:
		return "storage_io"
	case KindIndexIO:
		return "index_io"
	case KindAuthIO:
		return "auth_io"
	case KindShuttingDown:
		return "shutting_down"
	}
	return "internal"
}

// StatusCode returns the HTTP status code the kind maps to.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindVersionExists, KindConflict:
		return http.StatusConflict
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindShuttingDown:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// RegistryError is the typed error exchanged across backend contracts.
type RegistryError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *RegistryError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *RegistryError) Unwrap() error { return e.Err }

// NewError constructs a RegistryError of the given kind.
func NewError(kind ErrorKind, msg string) *RegistryError {
	return &RegistryError{Kind: kind, Msg: msg}
}

// WrapError wraps err with the given kind, preserving the cause chain.
func WrapError(kind ErrorKind, msg string, err error) *RegistryError {
	return &RegistryError{Kind: kind, Msg: msg, Err: err}
}

// Convenience constructors for the common kinds.

func ErrBadRequest(msg string) *RegistryError   { return NewError(KindBadRequest, msg) }
func ErrUnauthorized(msg string) *RegistryError { return NewError(KindUnauthorized, msg) }
func ErrForbidden(msg string) *RegistryError    { return NewError(KindForbidden, msg) }
func ErrNotFound() *RegistryError               { return NewError(KindNotFound, "") }
func ErrVersionExists(name, vers string) *RegistryError {
	return NewError(KindVersionExists, fmt.Sprintf("%s %s is already published", name, vers))
}
func ErrShuttingDown() *RegistryError { return NewError(KindShuttingDown, "server is draining") }

// KindOf extracts the ErrorKind from err, returning KindInternal for
// errors that did not originate in a backend contract.
func KindOf(err error) ErrorKind {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}
