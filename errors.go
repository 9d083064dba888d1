package jascrapers

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("jascrapers: no store configured")
	ErrNoSink          = errors.New("jascrapers: no result sink configured")
	ErrMigrationFailed = errors.New("jascrapers: migration failed")

	// Not found errors.
	ErrJobNotFound      = errors.New("jascrapers: job not found")
	ErrResultNotFound   = errors.New("jascrapers: result not found")
	ErrSupplierNotFound = errors.New("jascrapers: supplier not found")

	// Client errors.
	ErrInvalidParameters   = errors.New("jascrapers: invalid parameters")
	ErrUnknownSupplier     = errors.New("jascrapers: unknown supplier")
	ErrIdempotencyMismatch = errors.New("jascrapers: idempotency key reused with different request")

	// Conflict errors.
	ErrJobAlreadyExists        = errors.New("jascrapers: job already exists")
	ErrDuplicateIdempotencyKey = errors.New("jascrapers: duplicate idempotency key")
	ErrSupplierExists          = errors.New("jascrapers: supplier already registered")
	ErrConflict                = errors.New("jascrapers: concurrent transition conflict")

	// State errors.
	ErrInvalidTransition = errors.New("jascrapers: invalid state transition")
	ErrRetriesExhausted  = errors.New("jascrapers: retries exhausted")
	ErrRegistrySealed    = errors.New("jascrapers: supplier registry is sealed")

	// Execution errors.
	ErrNoRecords    = errors.New("jascrapers: no normalizable records")
	ErrJobCancelled = errors.New("jascrapers: job cancelled")
	ErrShuttingDown = errors.New("jascrapers: worker shutting down")
	ErrSinkTimeout  = errors.New("jascrapers: result sink write timed out")
)

// Class is the error taxonomy used by the retry policy and reported in a
// job's last error.
type Class string

const (
	ClassInvalidParameters Class = "invalid_parameters"
	ClassNotFound          Class = "not_found"
	ClassConflict          Class = "conflict"
	ClassTransient         Class = "adapter_transient"
	ClassPermanent         Class = "adapter_permanent"
	ClassDataQuality       Class = "data_quality"
	ClassCancelled         Class = "cancelled"
)

// Retryable reports whether a failure of this class may be retried.
func (c Class) Retryable() bool {
	return c == ClassTransient || c == ClassDataQuality
}

// Error is an error tagged with its classification. Supplier adapters
// return it (via Transient, Permanent or DataQuality) to tell the
// dispatcher how to treat a failure.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return string(e.Class) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks err as retryable (network failure, timeout, throttling).
func Transient(err error) error { return classify(ClassTransient, err) }

// Permanent marks err as not retryable (authentication, changed page schema).
func Permanent(err error) error { return classify(ClassPermanent, err) }

// DataQuality marks err as an output quality failure retried with a low cap.
func DataQuality(err error) error { return classify(ClassDataQuality, err) }

func classify(c Class, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: c, Err: err}
}

// Classify maps err onto the taxonomy. Explicitly classified errors keep
// their class; known sentinels are mapped; anything else
// is treated as transient.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}

	switch {
	case errors.Is(err, ErrJobCancelled):
		return ClassCancelled
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, ErrUnknownSupplier):
		return ClassInvalidParameters
	case errors.Is(err, ErrJobNotFound):
		return ClassNotFound
	case errors.Is(err, ErrConflict):
		return ClassConflict
	case errors.Is(err, ErrNoRecords):
		return ClassDataQuality
	default:
		return ClassTransient
	}
}
