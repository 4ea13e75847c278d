// Package errors defines the error polyguard handlers answer with. A
// ServiceError pairs a Kind, which fixes the HTTP status and the RFC 9457
// problem type, with a client-facing message and extra problem members.
package errors

import (
	stderrors "errors"
	"maps"
	"net/http"
)

// Kind classifies a ServiceError.
type Kind struct {
	Slug   string // last path segment of the problem type URI
	Title  string
	Status int
}

// Kinds answered by polyguard.
var (
	Validation           = Kind{"validation", "Validation Error", http.StatusBadRequest}
	ResolutionDenied     = Kind{"resolution-denied", "Resolution Denied", http.StatusBadRequest}
	NotFound             = Kind{"not-found", "Not Found", http.StatusNotFound}
	MethodNotAllowed     = Kind{"method-not-allowed", "Method Not Allowed", http.StatusMethodNotAllowed}
	PayloadTooLarge      = Kind{"payload-too-large", "Payload Too Large", http.StatusRequestEntityTooLarge}
	UnsupportedMediaType = Kind{"unsupported-media-type", "Unsupported Media Type", http.StatusUnsupportedMediaType}
	Timeout              = Kind{"timeout", "Timeout", http.StatusGatewayTimeout}
	Dependency           = Kind{"dependency", "Dependency Error", http.StatusServiceUnavailable}
	Internal             = Kind{"internal", "Internal Error", http.StatusInternalServerError}
)

// New returns a ServiceError of kind k.
func (k Kind) New(msg string) *ServiceError {
	return &ServiceError{Kind: k, Message: msg}
}

// Wrap returns a ServiceError of kind k whose Unwrap yields cause. Only msg
// reaches the client.
func (k Kind) Wrap(cause error, msg string) *ServiceError {
	return &ServiceError{Kind: k, Message: msg, cause: cause}
}

// ServiceError is an error rendered as a problem response. Members become
// top-level problem members.
type ServiceError struct {
	Kind    Kind
	Message string
	Members map[string]any
	cause   error
}

func (e *ServiceError) Error() string { return e.Message }

func (e *ServiceError) Unwrap() error { return e.cause }

// With returns a copy of e carrying the member key.
func (e *ServiceError) With(key string, value any) *ServiceError {
	return e.WithMembers(map[string]any{key: value})
}

// WithMembers returns a copy of e carrying every entry of members. The
// receiver is left unchanged.
func (e *ServiceError) WithMembers(members map[string]any) *ServiceError {
	out := *e
	out.Members = make(map[string]any, len(e.Members)+len(members))
	maps.Copy(out.Members, e.Members)
	maps.Copy(out.Members, members)
	return &out
}

// FromError finds the ServiceError in err's chain. Anything else becomes an
// Internal error wrapping err.
func FromError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return Internal.Wrap(err, err.Error())
}
