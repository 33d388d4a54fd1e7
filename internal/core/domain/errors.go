package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCRS is returned for coordinate systems the transformer does not support.
	ErrUnknownCRS = errors.New("unsupported coordinate reference system")

	// ErrRoundSuperseded is returned when a newer round cancelled this one.
	ErrRoundSuperseded = errors.New("query round superseded by a newer request")

	// ErrRoundDeadline marks services a round had no time left to query.
	ErrRoundDeadline = errors.New("round deadline exceeded")
)

// ValidationError reports malformed user input. It is fatal to a whole round
// and raised before any network activity.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// InvalidCoordinateError is returned by the transformer for non-finite or
// out-of-range input.
type InvalidCoordinateError struct {
	X, Y   float64
	CRS    CRS
	Reason string
}

func (e *InvalidCoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate (%v, %v) in %s: %s", e.X, e.Y, e.CRS, e.Reason)
}

// AuthError reports a failed token acquisition for a protected service.
type AuthError struct {
	Service string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Service == "" {
		return "auth: " + e.Message
	}
	return fmt.Sprintf("auth %s: %s", e.Service, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// QueryError reports a failed service query: an error body, a non-2xx status
// or an unparseable response.
type QueryError struct {
	Service string
	Status  int
	Message string
	Detail  string
	Err     error
}

func (e *QueryError) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Service != "" {
		msg = fmt.Sprintf("query %s: %s", e.Service, msg)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
