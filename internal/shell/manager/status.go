package manager

import (
	"context"
	"errors"

	"github.com/edgedeploy/edd/internal/core/lifecycle"
	"github.com/edgedeploy/edd/internal/shell/docker"
)

// =============================================================================
// Status Queries
// =============================================================================

// Status returns the deployment's record, refreshed against the engine
// when the lifecycle lock is free. While a mutating operation holds the
// lock the last published snapshot is returned instead, so status reads
// never block behind a slow load.
func (m *Manager) Status(ctx context.Context, name string) (Deployment, error) {
	s, ok := m.slots[name]
	if !ok {
		return Deployment{}, lifecycle.ErrNotFound
	}

	if !s.mu.TryLock() {
		return s.snapshot(), nil
	}
	defer func() {
		m.commit(s)
		s.mu.Unlock()
	}()

	m.refreshLocked(s)
	return s.d, nil
}

// List returns all deployments in declaration order, refreshed where
// the lock is free.
func (m *Manager) List(ctx context.Context) []Deployment {
	out := make([]Deployment, 0, len(m.names))
	for _, name := range m.names {
		d, err := m.Status(ctx, name)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

// refreshLocked reconciles the record with the engine's view of the
// bound container. A container that disappeared externally unbinds;
// externally started or stopped containers flip the state accordingly.
// Failed is sticky so an operator-visible failure is never masked by a
// background status poll.
func (m *Manager) refreshLocked(s *slot) {
	if s.d.ContainerID == "" {
		return
	}

	info, err := m.engine.InspectContainer(s.d.ContainerID)
	if err != nil {
		if errors.Is(err, docker.ErrContainerNotFound) {
			s.d.ContainerID = ""
			s.d.Health = ""
			if s.d.State != lifecycle.StateFailed {
				s.d.State = lifecycle.StateStopped
			}
		}
		return
	}

	s.d.Health = info.Health
	if s.d.State == lifecycle.StateFailed {
		return
	}
	if info.Running {
		s.d.State = lifecycle.StateRunning
	} else {
		s.d.State = lifecycle.StateStopped
	}
}
