// Package manager owns the deployment records and drives them through
// the lifecycle state machine.
//
// One slot exists per declared deployment. Each slot carries its own
// lifecycle lock, so at most one mutating operation is ever in flight
// per name while operations on distinct names proceed concurrently.
// Lock acquisition fails fast: a second caller gets ErrConflict instead
// of queueing behind the holder.
package manager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/edgedeploy/edd/internal/core/lifecycle"
	"github.com/edgedeploy/edd/internal/core/runargs"
	"github.com/edgedeploy/edd/internal/shell/docker"
)

// =============================================================================
// Types
// =============================================================================

// Spec is the immutable declaration of a deployment: its name and the
// parsed extra runtime arguments. The spec set is fixed at startup.
type Spec struct {
	Name string
	Args runargs.RunArgs
}

// Deployment is the runtime-mutable record for a declared deployment.
// The container ID is non-empty only while a container is bound; the
// image tag is always the canonical tag once a load or pull succeeded.
type Deployment struct {
	Name        string
	State       lifecycle.State
	ContainerID string
	ImageTag    string
	Health      string
	LastError   string
}

// slot pairs a deployment record with its lifecycle lock. The record is
// mutated only while mu is held; snap mirrors the record for lock-free
// status reads.
type slot struct {
	spec Spec

	mu sync.Mutex // lifecycle lock
	d  Deployment // guarded by mu

	snapMu sync.Mutex
	snap   Deployment // guarded by snapMu
}

// Config holds manager configuration.
type Config struct {
	// Prefix is prepended to deployment names to form container names
	// and canonical image tags.
	Prefix string

	// StopTimeout is how long the engine waits for a container to exit
	// before killing it.
	StopTimeout time.Duration
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:      "edd_",
		StopTimeout: 10 * time.Second,
	}
}

// Manager drives deployments through their lifecycle against the
// container engine.
type Manager struct {
	engine docker.Client
	logger *slog.Logger
	cfg    Config

	// slots is built once here and never mutated afterwards, so lookups
	// need no synchronization.
	slots map[string]*slot
	names []string // declaration order, for listing
}

// New creates a manager for the given deployment declarations.
func New(engine docker.Client, specs []Spec, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = DefaultConfig().StopTimeout
	}

	m := &Manager{
		engine: engine,
		logger: logger,
		cfg:    cfg,
		slots:  make(map[string]*slot, len(specs)),
	}

	for _, spec := range specs {
		s := &slot{
			spec: spec,
			d:    Deployment{Name: spec.Name, State: lifecycle.StateAbsent},
		}
		s.snap = s.d
		m.slots[spec.Name] = s
		m.names = append(m.names, spec.Name)
	}

	return m
}

// Names returns the declared deployment names in declaration order.
func (m *Manager) Names() []string {
	names := make([]string, len(m.names))
	copy(names, m.names)
	return names
}

// containerName returns the engine-side container name for a deployment.
func (m *Manager) containerName(name string) string {
	return lifecycle.ContainerName(m.cfg.Prefix, name)
}

// canonicalTag returns the image tag a deployment always runs from.
func (m *Manager) canonicalTag(name string) string {
	return lifecycle.CanonicalTag(m.cfg.Prefix, name)
}

// commit publishes the slot's record to its read snapshot. Callers must
// hold s.mu.
func (m *Manager) commit(s *slot) {
	s.snapMu.Lock()
	s.snap = s.d
	s.snapMu.Unlock()
}

// snapshot returns the last published record without touching the
// lifecycle lock.
func (s *slot) snapshot() Deployment {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.snap
}

// containerSpec builds the engine container spec for a deployment from
// its parsed extra arguments.
func (m *Manager) containerSpec(spec Spec) docker.ContainerSpec {
	labels := map[string]string{
		docker.LabelManaged:    "true",
		docker.LabelDeployment: spec.Name,
	}
	for k, v := range spec.Args.Labels {
		labels[k] = v
	}

	var ports []docker.PortBinding
	for _, p := range spec.Args.Ports {
		ports = append(ports, docker.PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	var volumes []docker.VolumeMount
	for _, v := range spec.Args.Volumes {
		volumes = append(volumes, docker.VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	return docker.ContainerSpec{
		Name:       m.containerName(spec.Name),
		Image:      m.canonicalTag(spec.Name),
		Env:        spec.Args.Env,
		Labels:     labels,
		Ports:      ports,
		Volumes:    volumes,
		Networks:   spec.Args.Networks,
		User:       spec.Args.User,
		WorkingDir: spec.Args.WorkingDir,
		RestartPolicy: docker.RestartPolicy{
			Name:              spec.Args.RestartPolicy,
			MaximumRetryCount: spec.Args.MaxRetries,
		},
		Resources: docker.ResourceLimits{
			CPULimit:    spec.Args.CPUs,
			MemoryLimit: spec.Args.Memory,
		},
	}
}

// =============================================================================
// Startup Reconciliation
// =============================================================================

// Reconcile rebinds deployments to containers that survived a daemon
// restart. It must run before the manager serves requests. Containers
// named {prefix}{name} for a declared deployment are adopted with their
// observed running state; managed containers matching no declaration
// are logged and left alone.
func (m *Manager) Reconcile() error {
	containers, err := m.engine.ListContainers(docker.ListOptions{All: true})
	if err != nil {
		return err
	}

	byName := make(map[string]docker.ContainerInfo, len(containers))
	for _, c := range containers {
		byName[c.Name] = c
	}

	adopted := map[string]bool{}
	for _, name := range m.names {
		s := m.slots[name]
		cname := m.containerName(name)
		info, ok := byName[cname]
		if !ok {
			continue
		}
		adopted[cname] = true

		s.mu.Lock()
		s.d.ContainerID = info.ID
		if info.Running {
			s.d.State = lifecycle.StateRunning
		} else {
			s.d.State = lifecycle.StateStopped
		}
		s.d.Health = info.Health

		tag := m.canonicalTag(name)
		if exists, err := m.engine.ImageExists(tag); err == nil && exists {
			s.d.ImageTag = tag
		}
		m.commit(s)
		s.mu.Unlock()

		m.logger.Info("adopted existing container",
			"deployment", name,
			"container_id", info.ID,
			"state", s.snapshot().State.String(),
		)
	}

	for _, c := range containers {
		if adopted[c.Name] {
			continue
		}
		if c.Labels[docker.LabelManaged] == "true" {
			m.logger.Warn("managed container matches no declared deployment",
				"container", c.Name,
			)
		}
	}

	return nil
}
