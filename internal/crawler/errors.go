package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures for reports and metrics.
type ErrorKind string

// Error kinds of the taxonomy.
const (
	KindRetrieval     ErrorKind = "retrieval"
	KindTransform     ErrorKind = "transform"
	KindConfiguration ErrorKind = "configuration"
	KindCancellation  ErrorKind = "cancellation"
	KindInternal      ErrorKind = "internal"
)

// ErrIllegalTransition is returned when a task status change would break monotonicity.
var ErrIllegalTransition = errors.New("illegal task status transition")

// ErrNoStrategy is wrapped when no configured strategy accepts a URL.
var ErrNoStrategy = errors.New("no strategy supports url")

// RetrievalError reports that every fetch strategy was exhausted.
type RetrievalError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *RetrievalError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("retrieve %s: all strategies failed after %d attempts", e.URL, e.Attempts)
	}
	return fmt.Sprintf("retrieve %s: all strategies failed after %d attempts: %v", e.URL, e.Attempts, e.Last)
}

func (e *RetrievalError) Unwrap() error {
	return e.Last
}

// StatusError marks a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// TransformError wraps a parse or markdown-generation failure.
type TransformError struct {
	Stage string
	Err   error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Stage, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// ConfigurationError rejects invalid settings before any work starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// CancellationError marks tasks that were aborted by the caller.
type CancellationError struct {
	Cause error
}

func (e *CancellationError) Error() string {
	if e.Cause == nil {
		return "crawl canceled"
	}
	return fmt.Sprintf("crawl canceled: %v", e.Cause)
}

func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// KindOf classifies an error into the taxonomy.
func KindOf(err error) ErrorKind {
	var (
		cancelErr    *CancellationError
		configErr    *ConfigurationError
		transformErr *TransformError
		retrievalErr *RetrievalError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cancelErr):
		return KindCancellation
	case errors.As(err, &configErr):
		return KindConfiguration
	case errors.As(err, &transformErr):
		return KindTransform
	case errors.As(err, &retrievalErr):
		return KindRetrieval
	case errors.Is(err, context.Canceled):
		return KindCancellation
	default:
		return KindInternal
	}
}
