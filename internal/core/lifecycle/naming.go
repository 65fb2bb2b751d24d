package lifecycle

import (
	"fmt"
	"regexp"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// namePattern restricts deployment names to characters valid in both
// container names and image tags.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateName checks that a deployment name is usable as a container
// name suffix and image repository component.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("deployment name is empty")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid deployment name %q: must start with an alphanumeric and contain only [a-zA-Z0-9_.-]", name)
	}
	return nil
}

// ContainerName generates the container name for a deployment.
// Pattern: {prefix}{name}
//
// Example:
//
//	ContainerName("edd_", "api") // returns "edd_api"
func ContainerName(prefix, name string) string {
	return prefix + name
}

// CanonicalTag generates the image tag a deployment's image is always
// re-tagged to after a load or pull. Start and restart resolve this tag,
// never the transient reference produced by the engine on ingest.
// Pattern: {prefix}{name}:latest
//
// Example:
//
//	CanonicalTag("edd_", "api") // returns "edd_api:latest"
func CanonicalTag(prefix, name string) string {
	return prefix + name + ":latest"
}
