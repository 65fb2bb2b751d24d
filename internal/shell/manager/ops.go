package manager

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/edgedeploy/edd/internal/core/lifecycle"
	"github.com/edgedeploy/edd/internal/shell/docker"
	"github.com/edgedeploy/edd/internal/shell/ingest"
)

// =============================================================================
// Lifecycle Operations
// =============================================================================

// acquire looks up the slot for name and takes its lifecycle lock
// without blocking. The caller must release via the returned function,
// which also publishes the final record to the read snapshot.
func (m *Manager) acquire(name string) (*slot, func(), error) {
	s, ok := m.slots[name]
	if !ok {
		return nil, nil, lifecycle.ErrNotFound
	}
	if !s.mu.TryLock() {
		return nil, nil, lifecycle.ErrConflict
	}
	release := func() {
		m.commit(s)
		s.mu.Unlock()
	}
	return s, release, nil
}

// fail records a lifecycle failure on the held slot.
func (m *Manager) fail(s *slot, opID string, op string, err error) {
	s.d.State = lifecycle.StateFailed
	s.d.LastError = err.Error()
	m.logger.Error("lifecycle operation failed",
		"deployment", s.spec.Name,
		"op", op,
		"op_id", opID,
		"error", err,
	)
}

// Load replaces a deployment's image with the uploaded archive and
// replaces its container.
//
// A bound running container is stopped before anything is ingested; if
// that stop fails the load is aborted with the engine's error and the
// prior container is left untouched. After a successful re-tag the old
// container is gone for good: a failure later in the sequence leaves
// the deployment Failed with the new image retained, and the caller
// recovers with start (or another load) rather than an automatic
// rollback.
func (m *Manager) Load(ctx context.Context, name string, body io.Reader, framing ingest.Framing) (Deployment, error) {
	s, release, err := m.acquire(name)
	if err != nil {
		return Deployment{}, err
	}
	defer release()

	opID := uuid.New().String()
	m.logger.Info("load starting",
		"deployment", name,
		"op_id", opID,
		"framing", framing.String(),
	)

	wasRunning := s.d.State == lifecycle.StateRunning
	s.d.State = lifecycle.StateLoading
	m.commit(s)

	if s.d.ContainerID != "" && wasRunning {
		timeout := m.cfg.StopTimeout
		if err := m.engine.StopContainer(s.d.ContainerID, &timeout); err != nil {
			m.fail(s, opID, "load", err)
			return s.d, err
		}
	}

	ref, err := ingest.Load(ctx, m.engine, body, framing)
	if err != nil {
		m.fail(s, opID, "load", err)
		return s.d, err
	}

	tag := m.canonicalTag(name)
	if err := m.engine.TagImage(ref, tag); err != nil {
		m.fail(s, opID, "load", err)
		return s.d, err
	}
	s.d.ImageTag = tag

	if err := m.swapContainer(s); err != nil {
		m.fail(s, opID, "load", err)
		return s.d, err
	}

	s.d.State = lifecycle.StateRunning
	s.d.Health = ""
	s.d.LastError = ""

	m.logger.Info("load complete",
		"deployment", name,
		"op_id", opID,
		"container_id", s.d.ContainerID,
		"image", tag,
	)
	return s.d, nil
}

// Pull fetches an image from a registry, tags it canonically, and
// replaces the deployment's container with one from the new image.
func (m *Manager) Pull(ctx context.Context, name, reference string) (Deployment, error) {
	s, release, err := m.acquire(name)
	if err != nil {
		return Deployment{}, err
	}
	defer release()

	opID := uuid.New().String()
	m.logger.Info("pull starting",
		"deployment", name,
		"op_id", opID,
		"reference", reference,
	)

	wasRunning := s.d.State == lifecycle.StateRunning
	s.d.State = lifecycle.StateLoading
	m.commit(s)

	if err := m.engine.PullImage(reference, docker.PullOptions{}); err != nil {
		m.fail(s, opID, "pull", err)
		return s.d, err
	}

	tag := m.canonicalTag(name)
	if err := m.engine.TagImage(reference, tag); err != nil {
		m.fail(s, opID, "pull", err)
		return s.d, err
	}
	s.d.ImageTag = tag

	if s.d.ContainerID != "" && wasRunning {
		timeout := m.cfg.StopTimeout
		if err := m.engine.StopContainer(s.d.ContainerID, &timeout); err != nil {
			m.fail(s, opID, "pull", err)
			return s.d, err
		}
	}

	if err := m.swapContainer(s); err != nil {
		m.fail(s, opID, "pull", err)
		return s.d, err
	}

	s.d.State = lifecycle.StateRunning
	s.d.Health = ""
	s.d.LastError = ""

	m.logger.Info("pull complete",
		"deployment", name,
		"op_id", opID,
		"container_id", s.d.ContainerID,
	)
	return s.d, nil
}

// swapContainer removes the bound container (if any) and creates and
// starts a fresh one from the canonical tag. Caller holds the lock and
// has already stopped a running container.
func (m *Manager) swapContainer(s *slot) error {
	if s.d.ContainerID != "" {
		if err := m.engine.RemoveContainer(s.d.ContainerID, docker.RemoveOptions{Force: true}); err != nil {
			return err
		}
		s.d.ContainerID = ""
	}

	id, err := m.engine.CreateContainer(m.containerSpec(s.spec))
	if err != nil {
		return err
	}
	s.d.ContainerID = id

	return m.engine.StartContainer(id)
}

// Start starts a deployment's container. Running is an idempotent
// success; with no container bound it creates one from the last loaded
// image, and with nothing ever loaded it reports ErrNoImage.
func (m *Manager) Start(ctx context.Context, name string) (Deployment, error) {
	s, release, err := m.acquire(name)
	if err != nil {
		return Deployment{}, err
	}
	defer release()

	if err := m.startLocked(s); err != nil {
		return s.d, err
	}
	return s.d, nil
}

func (m *Manager) startLocked(s *slot) error {
	if s.d.State == lifecycle.StateRunning {
		return nil
	}

	if s.d.ContainerID != "" {
		if err := m.engine.StartContainer(s.d.ContainerID); err != nil {
			m.fail(s, "", "start", err)
			return err
		}
		s.d.State = lifecycle.StateRunning
		s.d.LastError = ""
		return nil
	}

	if s.d.ImageTag == "" {
		return lifecycle.ErrNoImage
	}

	id, err := m.engine.CreateContainer(m.containerSpec(s.spec))
	if err != nil {
		m.fail(s, "", "start", err)
		return err
	}
	s.d.ContainerID = id

	if err := m.engine.StartContainer(id); err != nil {
		m.fail(s, "", "start", err)
		return err
	}

	s.d.State = lifecycle.StateRunning
	s.d.LastError = ""
	return nil
}

// Stop stops a deployment's container. Anything not running is an
// idempotent success.
func (m *Manager) Stop(ctx context.Context, name string) (Deployment, error) {
	s, release, err := m.acquire(name)
	if err != nil {
		return Deployment{}, err
	}
	defer release()

	if err := m.stopLocked(s); err != nil {
		return s.d, err
	}
	return s.d, nil
}

func (m *Manager) stopLocked(s *slot) error {
	if s.d.State != lifecycle.StateRunning {
		return nil
	}

	timeout := m.cfg.StopTimeout
	if err := m.engine.StopContainer(s.d.ContainerID, &timeout); err != nil {
		m.fail(s, "", "stop", err)
		return err
	}

	s.d.State = lifecycle.StateStopped
	s.d.LastError = ""
	return nil
}

// Restart stops then starts the deployment under the same held lock, so
// no other operation can interleave. A stop failure aborts before any
// start attempt.
func (m *Manager) Restart(ctx context.Context, name string) (Deployment, error) {
	s, release, err := m.acquire(name)
	if err != nil {
		return Deployment{}, err
	}
	defer release()

	if err := m.stopLocked(s); err != nil {
		return s.d, err
	}
	if err := m.startLocked(s); err != nil {
		return s.d, err
	}
	return s.d, nil
}

// Delete stops and removes the deployment's container and resets the
// record to Absent. The canonical image is left in the engine, but the
// record no longer references it; the next bring-up is a fresh load or
// pull.
func (m *Manager) Delete(ctx context.Context, name string) (Deployment, error) {
	s, release, err := m.acquire(name)
	if err != nil {
		return Deployment{}, err
	}
	defer release()

	if s.d.ContainerID != "" {
		timeout := m.cfg.StopTimeout
		if err := m.engine.StopContainer(s.d.ContainerID, &timeout); err != nil {
			// Already-stopped or already-gone containers are fine
			// here; anything else still gets removed by force below.
			if !errors.Is(err, docker.ErrContainerNotRunning) && !errors.Is(err, docker.ErrContainerNotFound) {
				m.logger.Warn("stop before remove failed",
					"deployment", name,
					"error", err,
				)
			}
		}

		err := m.engine.RemoveContainer(s.d.ContainerID, docker.RemoveOptions{Force: true})
		if err != nil && !errors.Is(err, docker.ErrContainerNotFound) {
			m.fail(s, "", "delete", err)
			return s.d, err
		}
	}

	s.d = Deployment{Name: name, State: lifecycle.StateAbsent}
	return s.d, nil
}
