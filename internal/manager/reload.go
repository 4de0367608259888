package manager

import (
	"context"
	"fmt"
	"time"
)

// Reload hot-swaps the active backend to model/revision with zero observable
// downtime: the replacement is started on a fresh port, probed for
// readiness, and only then made active; the superseded backend drains
// afterwards. On any failure the routing state is left untouched and the old
// backend keeps serving.
//
// Only one reload may be in flight; concurrent calls fail fast with
// ReloadInProgress rather than queueing.
func (m *Manager) Reload(ctx context.Context, model, revision string) (int, error) {
	if !m.reloadMu.TryLock() {
		return 0, reloadInProgressError{}
	}
	defer m.reloadMu.Unlock()

	m.mu.Lock()
	m.reloading = true
	m.lastPort++
	newPort := m.lastPort
	oldPort := m.activePort
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.reloading = false
		m.mu.Unlock()
	}()

	m.log.Info().Str("model", model).Str("revision", revision).
		Int("new_port", newPort).Int("old_port", oldPort).Msg("reload start")
	m.publisher.Publish(Event{Name: "reload_start", Model: model, Fields: map[string]any{
		"new_port": newPort, "old_port": oldPort,
	}})

	if err := m.sup.Start(newPort, model, revision); err != nil {
		m.noteFailure(err)
		m.publisher.Publish(Event{Name: "reload_failed", Model: model, Fields: map[string]any{
			"port": newPort, "error": err.Error(),
		}})
		return 0, reloadFailedError{cause: err}
	}

	if err := m.prober.WaitReady(ctx, m.baseURL(newPort), m.cfg.ReadyTimeout); err != nil {
		// The replacement never came up: tear it down and keep the old
		// backend in place. The burned port number is not reused.
		m.sup.Stop(newPort, 0)
		m.noteFailure(err)
		m.log.Error().Err(err).Int("port", newPort).Str("model", model).Msg("reload failed")
		m.publisher.Publish(Event{Name: "reload_failed", Model: model, Fields: map[string]any{
			"port": newPort, "error": err.Error(),
		}})
		return 0, reloadFailedError{cause: err}
	}
	m.sup.MarkReady(newPort)

	// Swap. New requests route to newPort from here on; requests already in
	// flight keep the port they resolved at start. The replacement can still
	// die between the readiness check and this point, in which case its exit
	// handler ran while newPort was not yet active, so re-check under the
	// routing lock before committing.
	m.mu.Lock()
	if !m.sup.Tracked(newPort) {
		m.mu.Unlock()
		err := fmt.Errorf("backend on port %d exited before activation", newPort)
		m.noteFailure(err)
		m.log.Error().Int("port", newPort).Str("model", model).Msg("reload failed: backend gone before swap")
		m.publisher.Publish(Event{Name: "reload_failed", Model: model, Fields: map[string]any{
			"port": newPort, "error": err.Error(),
		}})
		return 0, reloadFailedError{cause: err}
	}
	m.activePort = newPort
	m.activeModel = model
	m.activeRevision = revision
	m.reloads++
	m.lastErr = ""
	m.mu.Unlock()

	if oldPort != 0 {
		m.sup.MarkDraining(oldPort)
		m.sup.Stop(oldPort, m.cfg.GraceTimeout)
	}

	m.log.Info().Str("model", model).Int("active_port", newPort).Msg("reload done")
	m.publisher.Publish(Event{Name: "reload_done", Model: model, Fields: map[string]any{
		"active_port": newPort,
	}})
	return newPort, nil
}

// StartInitial brings up the configured default backend through the regular
// reload path. Main runs it in a goroutine so session and template routes
// serve while the first model loads; a failure here leaves the daemon up
// with chat returning 503 until an operator reloads.
func (m *Manager) StartInitial(ctx context.Context) error {
	if m.cfg.DefaultModel == "" {
		m.log.Warn().Msg("no default model configured; waiting for reload")
		return nil
	}
	_, err := m.Reload(ctx, m.cfg.DefaultModel, m.cfg.DefaultRevision)
	return err
}

// HandleExit is wired as the supervisor's exit handler. When the active
// backend dies the routing state is cleared so the relay reports the outage
// instead of dialing a dead port. Recovery is an operator-driven reload;
// there is no automatic restart.
func (m *Manager) HandleExit(port int, err error) {
	fields := map[string]any{"port": port}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.publisher.Publish(Event{Name: "proc_exit", Fields: fields})

	m.mu.Lock()
	defer m.mu.Unlock()
	if port != m.activePort {
		return
	}
	m.activePort = 0
	if err != nil {
		m.lastErr = "active backend exited: " + err.Error()
	} else {
		m.lastErr = "active backend exited"
	}
	m.log.Error().Int("port", port).Err(err).Msg("active backend lost")
}

func (m *Manager) noteFailure(err error) {
	m.mu.Lock()
	m.reloadFailures++
	m.lastErr = err.Error()
	m.mu.Unlock()
}

// GraceTimeout exposes the configured drain window for shutdown paths.
func (m *Manager) GraceTimeout() time.Duration { return m.cfg.GraceTimeout }
