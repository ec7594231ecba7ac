package notifier

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a notification does not exist
var ErrNotFound = errors.New("report notification not found")

// ErrScheduleConflict is returned when a conditional schedule update lost
// the race to another evaluator instance. Callers treat it as a no-op skip.
var ErrScheduleConflict = errors.New("schedule already advanced by another evaluator")

// ResolutionError reports a recipient resolver failure for one
// notification. It never stands for "no matches"; an empty recipient list
// is a valid result.
type ResolutionError struct {
	NotificationID string
	Err            error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve recipients for notification %s: %v", e.NotificationID, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
