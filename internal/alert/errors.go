package alert

import (
	"errors"
	"fmt"
)

var (
	ErrMetricUnavailable = errors.New("metric unavailable")
	// ErrAlertRemoved marks an alert deleted while a cycle was processing it.
	ErrAlertRemoved = errors.New("alert removed")
)

// StorageError wraps a repository failure. It aborts the current cycle and
// is surfaced to the scheduler.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// PerAlertError is a failure confined to one alert. It is written to the
// audit log and the batch continues.
type PerAlertError struct {
	AlertID string
	Phase   string
	Err     error
}

func (e *PerAlertError) Error() string {
	return fmt.Sprintf("alert %s: %s: %v", e.AlertID, e.Phase, e.Err)
}

func (e *PerAlertError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err carries a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
