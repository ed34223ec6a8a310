package moodle

import (
	"errors"
	"fmt"
)

var (
	// ErrNoUserID is returned when site info lacks the user id or the
	// private access key, which happens with a token of the wrong service.
	ErrNoUserID = errors.New("site info does not contain user id and private access key")

	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("moodle web service temporarily unavailable")

	// ErrUnexpectedResponse is returned when a response has an unknown shape.
	ErrUnexpectedResponse = errors.New("unexpected web service response")
)

// APIError is an exception reported by Moodle.
type APIError struct {
	Function  string
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Function, e.Message, e.ErrorCode)
}
