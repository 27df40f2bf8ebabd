package common

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error kinds. Every failure leaving the service layer matches exactly one of these
// through errors.Is.
var (
	ErrNotFound           = errors.New("requested resource not found")
	ErrBadRequest         = errors.New("bad request")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrConflict           = errors.New("resource conflict") // e.g., username already exists
	ErrInvalidToken       = errors.New("invalid token")
	ErrTooManyRequests    = errors.New("too many attempts")
	ErrInternalServer     = errors.New("internal server error")
)

// Error is a tagged failure: a kind from the list above plus a message safe to show
// to clients. Err holds the underlying cause for logs and is never rendered.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// NewError builds a tagged error without a cause.
func NewError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds a tagged error around cause.
func WrapError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind err belongs to. Anything unrecognised is internal.
func KindOf(err error) error {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	for _, kind := range []error{
		ErrBadRequest, ErrInvalidCredentials, ErrConflict, ErrInvalidToken,
		ErrTooManyRequests, ErrNotFound,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternalServer
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var tagged *Error
	if errors.As(err, &tagged) && tagged.Message != "" {
		return tagged.Message
	}
	return KindOf(err).Error()
}

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	// Check for pgx specific errors (example for unique constraint)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return http.StatusConflict
	}

	switch KindOf(err) {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrInvalidCredentials, ErrInvalidToken:
		return http.StatusUnauthorized
	case ErrConflict:
		return http.StatusConflict
	case ErrNotFound:
		return http.StatusNotFound
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
