package manager

// reloadInProgressError signals a rejected concurrent reload attempt.
type reloadInProgressError struct{}

func (reloadInProgressError) Error() string { return "reload already in progress" }

// ErrReloadInProgress constructs a reloadInProgressError.
func ErrReloadInProgress() error { return reloadInProgressError{} }

// IsReloadInProgress reports whether err indicates a concurrent reload was
// rejected (mapped to 409 at the HTTP boundary).
func IsReloadInProgress(err error) bool {
	_, ok := err.(reloadInProgressError)
	return ok
}

// reloadFailedError wraps the cause of a failed reload attempt (spawn
// failure, readiness timeout). The old backend keeps serving.
type reloadFailedError struct{ cause error }

func (e reloadFailedError) Error() string { return "reload failed: " + e.cause.Error() }
func (e reloadFailedError) Unwrap() error { return e.cause }

// ErrReloadFailed wraps cause as a failed reload attempt.
func ErrReloadFailed(cause error) error { return reloadFailedError{cause: cause} }

// IsReloadFailed reports whether err is a failed reload attempt.
func IsReloadFailed(err error) bool {
	_, ok := err.(reloadFailedError)
	return ok
}
