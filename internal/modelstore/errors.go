package modelstore

// notFoundError identifies a missing local model directory.
type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "model not found: " + e.id }

// ErrNotFound constructs a notFoundError for id.
func ErrNotFound(id string) error { return notFoundError{id: id} }

// IsNotFound reports whether err indicates a missing local model.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// invalidNameError rejects model names that could escape the models dir or
// collide with an existing entry.
type invalidNameError struct {
	name   string
	reason string
}

func (e invalidNameError) Error() string { return "invalid model name " + e.name + ": " + e.reason }

// IsInvalidName reports whether err is a rejected model name (mapped to 400).
func IsInvalidName(err error) bool {
	_, ok := err.(invalidNameError)
	return ok
}

// fetcherUnavailableError signals that no download backend is configured.
type fetcherUnavailableError struct{}

func (fetcherUnavailableError) Error() string { return "no model fetcher configured" }

// ErrFetcherUnavailable constructs a fetcherUnavailableError.
func ErrFetcherUnavailable() error { return fetcherUnavailableError{} }

// IsFetcherUnavailable reports whether err indicates downloads are not
// available on this deployment (mapped to 503).
func IsFetcherUnavailable(err error) bool {
	_, ok := err.(fetcherUnavailableError)
	return ok
}
