package lifecycle

import "errors"

// =============================================================================
// Error Taxonomy
// =============================================================================

// Sentinel errors produced by lifecycle operations. Ingest failures and
// container engine failures carry their own types (*ingest.Error and
// *docker.DockerError) and are passed through unwrapped.
var (
	// ErrNotFound means the deployment name is not declared in the
	// registry. No lock is acquired and no state is mutated.
	ErrNotFound = errors.New("deployment not found")

	// ErrConflict means another lifecycle operation already holds the
	// deployment's lock. The caller should retry explicitly; the
	// daemon never queues mutations.
	ErrConflict = errors.New("operation already in flight")

	// ErrNoImage means start or restart was requested before any
	// image was ever loaded for the deployment.
	ErrNoImage = errors.New("no image loaded")
)
