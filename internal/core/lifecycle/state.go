package lifecycle

// State describes where a deployment is in its lifecycle.
type State uint8

const (
	// StateAbsent means no container has ever been created for the
	// deployment in this daemon's lifetime.
	StateAbsent State = iota

	// StateStopped means a container is bound but not running.
	StateStopped

	// StateRunning means the bound container is running.
	StateRunning

	// StateLoading is held only while an image load or pull is in
	// progress under the deployment's lock.
	StateLoading

	// StateFailed is terminal until corrected by a successful load,
	// a retried start, or manual intervention.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateLoading:
		return "loading"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
