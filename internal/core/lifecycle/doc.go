// Package lifecycle provides the pure domain model for deployment
// lifecycle management.
//
// This package contains no I/O. It defines the deployment state enum,
// the error taxonomy shared between the manager and the API layer, and
// the naming rules that bind a deployment name to its container name
// and canonical image tag.
//
// # Usage
//
// The imperative shell (internal/shell/manager) drives deployments
// through these states and produces these errors; the API layer maps
// them to HTTP status codes.
//
//	tag := lifecycle.CanonicalTag("edd_", "api")   // "edd_api:latest"
//	name := lifecycle.ContainerName("edd_", "api") // "edd_api"
package lifecycle
