// Package apperr defines the error taxonomy shared by the pipeline and its
// adapters. Classification is always by type, never by message text.
package apperr

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrStillProcessing   = errors.New("content is still being processed")
	ErrProcessingFailed  = errors.New("content processing failed")
	ErrRateLimited       = errors.New("rate limited")
	ErrExtraction        = errors.New("no extractable text")
	ErrNoTranscript      = errors.New("no transcript available")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrGenerationParse   = errors.New("generation output could not be parsed")
)

// Error is a classified error. Message is safe to show to users; Err carries
// the diagnostic cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind error, msg string, cause error) error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func Input(msg string) error { return newError(ErrInvalidInput, msg, nil) }

func NotFound(msg string) error { return newError(ErrNotFound, msg, nil) }

func Extraction(msg string, cause error) error { return newError(ErrExtraction, msg, cause) }

func NoTranscript(msg string, cause error) error { return newError(ErrNoTranscript, msg, cause) }

func SourceUnavailable(msg string, cause error) error {
	return newError(ErrSourceUnavailable, msg, cause)
}

func GenerationParse(msg string, cause error) error {
	return newError(ErrGenerationParse, msg, cause)
}

// StateError reports that a content item is not in a state that allows the
// requested workflow. Reason holds the stored failure message, if any.
type StateError struct {
	Status string
	Reason string
}

func (e *StateError) Error() string {
	if e.Status == "processing" {
		return "Content is still being processed. Please try again shortly."
	}
	reason := e.Reason
	if reason == "" {
		reason = "unknown error"
	}
	return "Content processing failed: " + reason
}

func (e *StateError) Is(target error) bool {
	switch target {
	case ErrStillProcessing:
		return e.Status == "processing"
	case ErrProcessingFailed:
		return e.Status != "processing"
	}
	return false
}

// RateLimitError is returned once a provider kept throttling after every
// retry attempt was spent.
type RateLimitError struct {
	Provider string
	Err      error
}

func (e *RateLimitError) Error() string {
	p := e.Provider
	if p == "" {
		p = "Provider"
	}
	return p + " rate limit reached. Please wait a moment and try again."
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

type retryable struct {
	err error
}

func (r *retryable) Error() string   { return r.err.Error() }
func (r *retryable) Unwrap() error   { return r.err }
func (r *retryable) Retryable() bool { return true }

// MarkRetryable flags a provider error as a throttling or transient
// unavailability signal eligible for backoff.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryable{err: err}
}

func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

// HTTPStatus maps an error to the status code the request layer reports.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrExtraction),
		errors.Is(err, ErrNoTranscript),
		errors.Is(err, ErrSourceUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrStillProcessing), errors.Is(err, ErrProcessingFailed):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrGenerationParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrExtraction):
		return "EXTRACTION_FAILED"
	case errors.Is(err, ErrNoTranscript):
		return "NO_TRANSCRIPT"
	case errors.Is(err, ErrSourceUnavailable):
		return "SOURCE_UNAVAILABLE"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrStillProcessing), errors.Is(err, ErrProcessingFailed):
		return "CONTENT_NOT_READY"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrGenerationParse):
		return "GENERATION_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}

// Message returns the user-facing text for err. Unclassified errors yield
// fallback so internal details never leak.
func Message(err error, fallback string) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	var se *StateError
	if errors.As(err, &se) {
		return se.Error()
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Error()
	}
	return fallback
}

// Classified reports whether err belongs to a known category.
func Classified(err error) bool {
	return Code(err) != "INTERNAL_ERROR"
}

// Describe renders an error for storage in a content record.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
