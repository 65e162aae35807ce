package parley

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies failures of backend calls.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindValidation
	KindNotFound
	KindUnauthorized
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

var (
	ErrNetwork      = errors.New("parley: network failure")
	ErrValidation   = errors.New("parley: validation failed")
	ErrNotFound     = errors.New("parley: not found")
	ErrUnauthorized = errors.New("parley: unauthorized")
)

// FieldError is one entry of a validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is returned by every Client call that fails.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Fields  []FieldError
	Err     error
}

func (e *APIError) Error() string {
	msg := e.Text()
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("parley: %s (%d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("parley: %s: %s", e.Kind, msg)
}

// Text is the human readable message: the joined field errors for a
// validation failure, otherwise the server message.
func (e *APIError) Text() string {
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			if f.Field != "" {
				parts = append(parts, f.Field+": "+f.Message)
			} else {
				parts = append(parts, f.Message)
			}
		}
		return strings.Join(parts, ", ")
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	}
	return false
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return KindValidation
	case status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// ErrorMessage extracts a message fit for a toast, falling back when the
// error carries nothing a user should read.
func ErrorMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind != KindNetwork {
		if text := apiErr.Text(); text != "" {
			return text
		}
	}
	return fallback
}

func unknownChat(id ID) error {
	return fmt.Errorf("%w: chat %s", ErrNotFound, id)
}

func unknownMessage(id ID) error {
	return fmt.Errorf("%w: message %s", ErrNotFound, id)
}

func unknownFriend(id ID) error {
	return fmt.Errorf("%w: friend %s", ErrNotFound, id)
}
