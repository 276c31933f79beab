package queue

import "fmt"

// GenericServiceMessage is surfaced when the backend fails without a
// usable message of its own.
const GenericServiceMessage = "Queue service temporarily unavailable. Please try again."

// ValidationError reports an operation rejected locally, before any
// network call, because a precondition did not hold.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func validationErr(op, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// ServiceError reports a failure from the external queue service. The
// service-provided message is preserved when present so staff see the
// same text the backend produced.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// UserMessage returns the text to surface to staff.
func (e *ServiceError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return GenericServiceMessage
}

// StaleDataError reports a poll snapshot that is older than a mutation
// already applied to the store. The caller should re-poll rather than
// load the snapshot blind.
type StaleDataError struct {
	SnapshotBasis uint64
	StoreVersion  uint64
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("snapshot basis %d is stale, store at version %d", e.SnapshotBasis, e.StoreVersion)
}

// NotFoundError reports an unknown queue entry.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.What)
}
