package dom

import "fmt"

// CaptureError reports that no usable snapshot could be obtained, either
// because the page is closed or because it stayed mid-navigation across the
// bounded retry.
type CaptureError struct {
	Attempts int
	Err      error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("page capture failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
