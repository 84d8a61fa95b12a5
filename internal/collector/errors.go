package collector

import (
	"fmt"
)

// ReportDeliveryError is a failed single delivery attempt: transport error,
// timeout or unexpected status. The event is dropped, never retried.
type ReportDeliveryError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ReportDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver to %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("deliver to %s: bad status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *ReportDeliveryError) Unwrap() error {
	return e.Err
}

// NotifyError means the image upload succeeded but the motion notification did not.
type NotifyError struct {
	Err error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("image uploaded, motion notify failed: %v", e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}
