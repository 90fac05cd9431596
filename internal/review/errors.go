package review

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingParameter is wrapped by errors for requests lacking a required
// parameter.
var ErrMissingParameter = errors.New("missing parameter")

// Kind classifies the failures of a review request.
type Kind int

const (
	// Internal is an unexpected failure of packrat itself.
	Internal Kind = iota
	// BadRequest means the request itself is malformed.
	BadRequest
	// Unauthenticated means no API token was supplied.
	Unauthenticated
	// InvalidCredential means the review service rejected the API token.
	InvalidCredential
	// ServiceUnavailable means the API token could not be verified because
	// the review service was unreachable.
	ServiceUnavailable
	// NotFound means the repository or a URI to mirror it from is unknown.
	NotFound
	// MirrorError means cloning or updating the mirror failed.
	MirrorError
	// DiffGenerationError means the bundle could not be applied or the
	// revisions could not be diffed.
	DiffGenerationError
	// ReviewServiceError means the review service failed a call.
	ReviewServiceError
	// TransientFileError means the bundle could not be staged.
	TransientFileError
)

var kindInfo = map[Kind]struct {
	name   string
	title  string
	status int
}{
	Internal:            {"internal", "Internal Server Error", http.StatusInternalServerError},
	BadRequest:          {"bad_request", "Bad Request", http.StatusBadRequest},
	Unauthenticated:     {"unauthenticated", "X-API-Key Required", http.StatusUnauthorized},
	InvalidCredential:   {"invalid_credential", "X-API-Key Invalid", http.StatusForbidden},
	ServiceUnavailable:  {"service_unavailable", "Review Service Unavailable", http.StatusServiceUnavailable},
	NotFound:            {"not_found", "Not Found", http.StatusNotFound},
	MirrorError:         {"mirror_error", "Repository Mirror Failed", http.StatusBadGateway},
	DiffGenerationError: {"diff_generation_error", "Diff Generation Failed", http.StatusBadRequest},
	ReviewServiceError:  {"review_service_error", "Review Service Error", http.StatusBadGateway},
	TransientFileError:  {"transient_file_error", "Bundle Staging Failed", http.StatusInternalServerError},
}

func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Title is a short human readable summary of the kind.
func (k Kind) Title() string {
	if info, ok := kindInfo[k]; ok {
		return info.title
	}
	return kindInfo[Internal].title
}

// HTTPStatus is the status code a failure of this kind is reported with.
func (k Kind) HTTPStatus() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Error is the failure of a review request.
type Error struct {
	Kind Kind
	// Detail explains the failure to the client.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, Internal if err is no *Error.
func KindOf(err error) Kind {
	var reviewErr *Error
	if errors.As(err, &reviewErr) {
		return reviewErr.Kind
	}
	return Internal
}
