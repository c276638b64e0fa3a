package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTimeout          = errors.New("timeout")
	ErrUnavailable      = errors.New("unavailable")
	ErrCorrupted        = errors.New("corrupted input")
	ErrInternal         = errors.New("internal error")
)

// Kind categorizes an error for propagation and retry decisions.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindPermission Kind = "permission_denied"
	KindAdapter    Kind = "adapter"
	KindTransient  Kind = "transient"
	KindParser     Kind = "parser"
	KindCorruption Kind = "corruption"
	KindInternal   Kind = "internal"
)

// AdapterClass refines KindAdapter failures.
type AdapterClass string

const (
	AdapterUnavailable AdapterClass = "unavailable"
	AdapterRateLimited AdapterClass = "rate_limited"
	AdapterAuthFailed  AdapterClass = "auth_failed"
	AdapterInvalid     AdapterClass = "invalid"
)

// OpError is a structured error for core operations.
type OpError struct {
	Kind       Kind
	Op         string // Operation that failed (e.g., "run_rule", "submit_job")
	Target     string // Entity or adapter the operation acted on
	Err        error  // Underlying error
	Class      AdapterClass
	StatusCode int // HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *OpError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *OpError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrPermissionDenied:
		return e.Kind == KindPermission
	case ErrInvalidInput:
		return e.Kind == KindValidation
	case ErrTimeout, ErrUnavailable:
		return e.Kind == KindTransient
	case ErrCorrupted:
		return e.Kind == KindCorruption
	}

	return errors.Is(e.Err, target)
}

// New creates a new OpError.
func New(kind Kind, op, target string, err error) *OpError {
	return &OpError{
		Kind:      kind,
		Op:        op,
		Target:    target,
		Err:       err,
		Timestamp: time.Now().UTC(),
		Retryable: kindRetryable(kind),
	}
}

// WithStatusCode adds an HTTP status code and refines retryability.
func (e *OpError) WithStatusCode(code int) *OpError {
	e.StatusCode = code
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

// WithClass tags an adapter error with its failure class.
func (e *OpError) WithClass(class AdapterClass) *OpError {
	e.Class = class
	if class == AdapterUnavailable || class == AdapterRateLimited {
		e.Retryable = true
	}
	return e
}

func kindRetryable(kind Kind) bool {
	switch kind {
	case KindTransient:
		return true
	case KindValidation, KindNotFound, KindConflict, KindPermission, KindCorruption:
		return false
	default:
		return false
	}
}

// Helper constructors

func Validation(op string, err error) error {
	return New(KindValidation, op, "", err)
}

func Validationf(op, format string, args ...interface{}) error {
	return New(KindValidation, op, "", fmt.Errorf(format, args...))
}

func NotFound(op, target string) error {
	return New(KindNotFound, op, target, ErrNotFound)
}

func Conflict(op, target string, err error) error {
	return New(KindConflict, op, target, err)
}

func Adapter(op, adapter string, err error, class AdapterClass) error {
	return New(KindAdapter, op, adapter, err).WithClass(class)
}

func Transient(op string, err error) error {
	return New(KindTransient, op, "", err)
}

func Internal(op string, err error) error {
	return New(KindInternal, op, "", err)
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}

// KindOf returns the kind of an error, or KindInternal for unclassified ones.
func KindOf(err error) Kind {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return KindInternal
}
