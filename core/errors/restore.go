package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrStorage matches every *StorageError.
	ErrStorage = stderrors.New("restore: storage failure")
	// ErrDataConsistency matches every *DataConsistencyError.
	ErrDataConsistency = stderrors.New("restore: data consistency violation")
)

// StorageError wraps a failed read or write against durable storage. It is
// fatal for the warm start and carries the failing operation name.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match without unwrapping the cause.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// DataConsistencyError reports a structural impossibility in persisted data.
type DataConsistencyError struct {
	Reason string
}

func (e *DataConsistencyError) Error() string {
	return "data consistency: " + e.Reason
}

func (e *DataConsistencyError) Is(target error) bool { return target == ErrDataConsistency }

// Storage wraps err as a *StorageError unless it already is one, or is a
// consistency error raised further down the stack.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return err
	}
	var ce *DataConsistencyError
	if stderrors.As(err, &ce) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Inconsistent builds a *DataConsistencyError from a format string.
func Inconsistent(format string, args ...any) error {
	return &DataConsistencyError{Reason: fmt.Sprintf(format, args...)}
}
