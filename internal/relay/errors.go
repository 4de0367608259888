package relay

// backendUnavailableError signals that no inference backend is serving,
// either before the first model loads or after the active backend crashed.
type backendUnavailableError struct{}

func (backendUnavailableError) Error() string { return "no inference backend available" }

// ErrBackendUnavailable constructs a backendUnavailableError.
func ErrBackendUnavailable() error { return backendUnavailableError{} }

// IsBackendUnavailable reports whether err means chat cannot be served right
// now (mapped to 503 at the HTTP boundary).
func IsBackendUnavailable(err error) bool {
	_, ok := err.(backendUnavailableError)
	return ok
}
