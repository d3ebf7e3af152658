package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrProviderTransient  = errors.New("provider transient error")
	ErrProviderPermanent  = errors.New("provider permanent error")
	ErrPipeline           = errors.New("pipeline error")
	ErrProvidersExhausted = errors.New("no source responded")
	ErrNoProviders        = errors.New("no providers available")
	ErrUnknownProvider    = errors.New("unknown provider")
)

// ValidationError rejects a malformed request. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type ErrorClass string

const (
	ClassTransient ErrorClass = "transient"
	ClassPermanent ErrorClass = "permanent"
)

// ProviderError describes a failed adapter call. Transient errors are retried,
// permanent ones (4xx, auth, malformed payload) are reported as-is.
type ProviderError struct {
	Source     string
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	if e.Source != "" {
		b.WriteString(e.Source)
		b.WriteString(": ")
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, "provider HTTP %d", e.StatusCode)
		if e.Message != "" {
			b.WriteString(": ")
		}
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		if e.Message != "" || e.StatusCode > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrProviderTransient:
		return e.Class == ClassTransient
	case ErrProviderPermanent:
		return e.Class == ClassPermanent
	}
	return false
}

func (e *ProviderError) Transient() bool {
	return e != nil && e.Class == ClassTransient
}

func TransientError(source string, err error) *ProviderError {
	return &ProviderError{Source: source, Class: ClassTransient, Err: err}
}

func PermanentError(source, message string) *ProviderError {
	return &ProviderError{Source: source, Class: ClassPermanent, Message: message}
}

// StatusError classifies an upstream HTTP status: 5xx, 408 and 429 are transient.
func StatusError(source string, status int, body string) *ProviderError {
	class := ClassPermanent
	if status >= 500 || status == 408 || status == 429 {
		class = ClassTransient
	}
	return &ProviderError{Source: source, Class: class, StatusCode: status, Message: strings.TrimSpace(body)}
}

// PipelineError is an internal invariant violation in normalize/merge/score.
// The offending item or source is dropped; the request continues.
type PipelineError struct {
	Stage  string
	Source string
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s stage failed for %s: %v", e.Stage, e.Source, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) Is(target error) bool {
	return target == ErrPipeline
}

// ExhaustedError is returned when no requested source produced an answer.
type ExhaustedError struct {
	Statuses map[string]SourceStatus
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s (%d attempted)", ErrProvidersExhausted.Error(), len(e.Statuses))
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrProvidersExhausted
}
