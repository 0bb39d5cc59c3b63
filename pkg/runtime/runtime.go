package runtime

import "context"

// Container states reported by Monitor.Status besides the ones the
// container engine uses itself (running, exited, paused, ...).
const (
	StateMissing = "missing"
	StateUnknown = "unknown"
)

// Monitor reports on the container hosting the inference runtime.
type Monitor interface {
	// Status returns the container's state. A container that does not exist
	// is StateMissing; any engine error yields StateUnknown and the error.
	Status(ctx context.Context, name string) (string, error)

	// Close releases engine client resources.
	Close() error
}
