package errors

import (
	"context"
	"errors"
	"fmt"
)

// GaugeError is a coded failure raised at the edges of the session
// controller. The controller itself never returns these to the user; it logs
// them and degrades.
type GaugeError struct {
	Code      string
	Message   string
	Cause     error
	SessionID string
}

func (e *GaugeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GaugeError) Unwrap() error { return e.Cause }

// Is matches any *GaugeError carrying the same code.
func (e *GaugeError) Is(target error) bool {
	t, ok := target.(*GaugeError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

const (
	ErrCodeEngineUnavailable = "ENGINE_UNAVAILABLE"
	ErrCodeEngineStartFailed = "ENGINE_START_FAILED"
	ErrCodeMalformedSample   = "MALFORMED_SAMPLE"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeConnectionFailed  = "CONNECTION_FAILED"
	ErrCodeInvalidConfig     = "INVALID_CONFIG"
	ErrCodeCancelled         = "CANCELLED"
)

// Sentinels for errors.Is comparisons by code.
var (
	ErrEngineUnavailable = &GaugeError{Code: ErrCodeEngineUnavailable}
	ErrEngineStartFailed = &GaugeError{Code: ErrCodeEngineStartFailed}
	ErrMalformed         = &GaugeError{Code: ErrCodeMalformedSample}
	ErrTransition        = &GaugeError{Code: ErrCodeInvalidTransition}
	ErrConnection        = &GaugeError{Code: ErrCodeConnectionFailed}
	ErrConfig            = &GaugeError{Code: ErrCodeInvalidConfig}
)

func ErrEngineNotReady(msg string) *GaugeError {
	return &GaugeError{
		Code:    ErrCodeEngineUnavailable,
		Message: msg,
	}
}

func ErrStartFailed(sessionID string, cause error) *GaugeError {
	return &GaugeError{
		Code:      ErrCodeEngineStartFailed,
		Message:   "engine refused to start",
		Cause:     cause,
		SessionID: sessionID,
	}
}

func ErrMalformedSample(field string, cause error) *GaugeError {
	return &GaugeError{
		Code:    ErrCodeMalformedSample,
		Message: "malformed " + field,
		Cause:   cause,
	}
}

func ErrInvalidTransition(from, op string) *GaugeError {
	return &GaugeError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("%s while %s", op, from),
	}
}

func ErrConnectionFailed(msg string, cause error) *GaugeError {
	return &GaugeError{
		Code:    ErrCodeConnectionFailed,
		Message: msg,
		Cause:   cause,
	}
}

func ErrInvalidConfig(msg string, cause error) *GaugeError {
	return &GaugeError{
		Code:    ErrCodeInvalidConfig,
		Message: msg,
		Cause:   cause,
	}
}

func ErrCancelled(sessionID string) *GaugeError {
	return &GaugeError{
		Code:      ErrCodeCancelled,
		Message:   "session cancelled",
		SessionID: sessionID,
	}
}

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
