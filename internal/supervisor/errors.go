package supervisor

import "fmt"

// portInUseError signals that a start was attempted for an already-tracked port.
type portInUseError struct{ port int }

func (e portInUseError) Error() string { return fmt.Sprintf("port already in use: %d", e.port) }

// IsPortInUse reports whether err indicates a port collision on Start.
func IsPortInUse(err error) bool {
	_, ok := err.(portInUseError)
	return ok
}
