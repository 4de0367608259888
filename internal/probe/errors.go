package probe

import (
	"fmt"
	"time"
)

// readyTimeoutError signals that a backend never reported a loaded model
// within the deadline.
type readyTimeoutError struct {
	baseURL string
	timeout time.Duration
}

func (e readyTimeoutError) Error() string {
	return fmt.Sprintf("backend at %s not ready within %s", e.baseURL, e.timeout)
}

// IsReadyTimeout reports whether err is a readiness deadline expiry.
func IsReadyTimeout(err error) bool {
	_, ok := err.(readyTimeoutError)
	return ok
}
