package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
	ErrValidation   = errors.New("validation failed")
)

// Pipeline errors
var (
	// ErrNoDocuments is batch-fatal: generate was requested on an empty batch.
	ErrNoDocuments = errors.New("no documents in batch")
	// ErrInvalidTransition is a session-integrity error; the state is left unchanged.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrRenderFailed is batch-fatal: the rendering collaborator failed.
	ErrRenderFailed = errors.New("render failed")
	// ErrNotDANFE rejects uploads that are not a DANFE of the expected issuer.
	ErrNotDANFE = errors.New("document is not a valid DANFE")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// TransitionError builds a session-integrity error naming the rejected event.
func TransitionError(event string, state fmt.Stringer) error {
	return NewAppError("INVALID_TRANSITION", fmt.Sprintf("%s not allowed in state %s", event, state), ErrInvalidTransition)
}

// IsTransitionError reports whether err is a rejected transition.
func IsTransitionError(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
