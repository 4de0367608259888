package store

// notFoundError identifies a missing row by kind and id.
type notFoundError struct {
	kind string
	id   string
}

func (e notFoundError) Error() string { return e.kind + " not found: " + e.id }

// IsNotFound reports whether err indicates a missing session, message, or
// template (mapped to 404 at the HTTP boundary).
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}
