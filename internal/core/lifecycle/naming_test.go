package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// ContainerName Tests
// =============================================================================

func TestContainerName_Simple(t *testing.T) {
	got := ContainerName("edd_", "api")
	assert.Equal(t, "edd_api", got)
}

func TestContainerName_WithHyphen(t *testing.T) {
	got := ContainerName("edd_", "my-service")
	assert.Equal(t, "edd_my-service", got)
}

func TestContainerName_EmptyPrefix(t *testing.T) {
	got := ContainerName("", "api")
	assert.Equal(t, "api", got)
}

// =============================================================================
// CanonicalTag Tests
// =============================================================================

func TestCanonicalTag_Simple(t *testing.T) {
	got := CanonicalTag("edd_", "api")
	assert.Equal(t, "edd_api:latest", got)
}

func TestCanonicalTag_CustomPrefix(t *testing.T) {
	got := CanonicalTag("fleet-", "ingest-worker")
	assert.Equal(t, "fleet-ingest-worker:latest", got)
}

// =============================================================================
// ValidateName Tests
// =============================================================================

func TestValidateName_Valid(t *testing.T) {
	for _, name := range []string{"api", "my-service", "worker_2", "a", "svc.internal"} {
		assert.NoError(t, ValidateName(name), name)
	}
}

func TestValidateName_Invalid(t *testing.T) {
	for _, name := range []string{"", "-api", "api/v1", "api:latest", "with space"} {
		assert.Error(t, ValidateName(name), name)
	}
}

// =============================================================================
// State Tests
// =============================================================================

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateAbsent, "absent"},
		{StateStopped, "stopped"},
		{StateRunning, "running"},
		{StateLoading, "loading"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
