// Package supervisor owns the set of live backend processes, keyed by port.
// It spawns them with a structured argv, captures their output to a shared
// log sink, and serializes start/stop per port so two lifecycle operations
// on the same port can never interleave.
package supervisor

import (
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

// State is the lifecycle state of a supervised backend process.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// Config describes how backend processes are launched.
type Config struct {
	// Binary invoked as `<bin> serve <model> ...`.
	Bin  string
	Host string
	// Passed through to the backend argv when non-zero.
	GPUMemUtil     float64
	MaxNumSeqs     int
	TensorParallel int
	ExtraArgs      []string
	// Shared append-only file receiving child stdout/stderr.
	// Empty discards output.
	LogPath string
}

// Process is the minimal handle the supervisor needs over a running child.
// The default implementation wraps exec.Cmd; tests substitute fakes.
type Process interface {
	PID() int
	Signal(sig os.Signal) error
	Kill() error
	// Wait blocks until the process exits. Called exactly once.
	Wait() error
}

// SpawnFunc launches bin with args, wiring stdout/stderr to sink.
type SpawnFunc func(bin string, args []string, sink io.Writer) (Process, error)

type proc struct {
	p        Process
	port     int
	model    string
	revision string
	state    State
	started  time.Time
	stopping bool
	done     chan struct{} // closed once Wait returns
	waitErr  error
}

// Supervisor tracks one backend process per port.
type Supervisor struct {
	cfg    Config
	log    zerolog.Logger
	spawn  SpawnFunc
	onExit func(port int, err error)

	mu     sync.Mutex
	procs  map[int]*proc
	portMu map[int]*sync.Mutex
	sink   io.Writer
}

// New constructs a Supervisor using the exec-based spawner.
func New(cfg Config, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		log:    log.With().Str("component", "supervisor").Logger(),
		spawn:  execSpawn,
		procs:  make(map[int]*proc),
		portMu: make(map[int]*sync.Mutex),
	}
}

// SetSpawner replaces the process spawner. Intended for tests.
func (s *Supervisor) SetSpawner(fn SpawnFunc) {
	if fn != nil {
		s.spawn = fn
	}
}

// SetExitHandler installs a callback invoked when a tracked process exits
// without Stop having been called for it.
func (s *Supervisor) SetExitHandler(fn func(port int, err error)) {
	s.onExit = fn
}

// BuildArgs assembles the backend argv for one process. Exported so the
// spawn arguments are testable as plain data.
func BuildArgs(cfg Config, port int, model, revision string) []string {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	args := []string{
		"serve", model,
		"--served-model-name", model,
		"--host", host,
		"--port", fmt.Sprint(port),
		"--dtype", "auto",
	}
	if cfg.GPUMemUtil > 0 {
		args = append(args, "--gpu-memory-utilization", fmt.Sprint(cfg.GPUMemUtil))
	}
	if cfg.MaxNumSeqs > 0 {
		args = append(args, "--max-num-seqs", fmt.Sprint(cfg.MaxNumSeqs))
	}
	if cfg.TensorParallel > 0 {
		args = append(args, "--tensor-parallel-size", fmt.Sprint(cfg.TensorParallel))
	}
	if revision != "" {
		args = append(args, "--revision", revision)
	}
	return append(args, cfg.ExtraArgs...)
}

// portLock returns the mutex serializing lifecycle operations for port.
func (s *Supervisor) portLock(port int) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.portMu[port]
	if !ok {
		l = &sync.Mutex{}
		s.portMu[port] = l
	}
	return l
}

func (s *Supervisor) logSink() (io.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil {
		return s.sink, nil
	}
	if s.cfg.LogPath == "" {
		s.sink = io.Discard
		return s.sink, nil
	}
	if err := fsutil.EnsureParentDir(s.cfg.LogPath); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log sink: %w", err)
	}
	s.sink = f
	return s.sink, nil
}

// Start spawns a backend bound to port for model/revision and records it in
// state Starting. It fails with a PortInUse error when the port is already
// tracked.
func (s *Supervisor) Start(port int, model, revision string) error {
	lock := s.portLock(port)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	_, exists := s.procs[port]
	s.mu.Unlock()
	if exists {
		return portInUseError{port: port}
	}

	sink, err := s.logSink()
	if err != nil {
		return err
	}
	args := BuildArgs(s.cfg, port, model, revision)
	p, err := s.spawn(s.cfg.Bin, args, sink)
	if err != nil {
		return fmt.Errorf("spawn backend: %w", err)
	}

	pr := &proc{
		p:        p,
		port:     port,
		model:    model,
		revision: revision,
		state:    StateStarting,
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	s.mu.Lock()
	s.procs[port] = pr
	s.mu.Unlock()

	s.log.Info().Int("port", port).Int("pid", p.PID()).
		Str("model", model).Str("revision", revision).Msg("backend started")

	go s.watch(pr)
	return nil
}

// watch reaps the child and surfaces unexpected exits. A process that dies
// without Stop being called is dropped from the table and reported through
// the exit handler; there is no automatic restart.
func (s *Supervisor) watch(pr *proc) {
	err := pr.p.Wait()

	s.mu.Lock()
	pr.waitErr = err
	close(pr.done)
	cur, tracked := s.procs[pr.port]
	unexpected := tracked && cur == pr && !pr.stopping
	if unexpected {
		pr.state = StateStopped
		delete(s.procs, pr.port)
	}
	s.mu.Unlock()

	if unexpected {
		s.log.Error().Int("port", pr.port).Int("pid", pr.p.PID()).Err(err).
			Str("model", pr.model).Msg("backend exited unexpectedly")
		if s.onExit != nil {
			s.onExit(pr.port, err)
		}
	}
}

// Stop terminates the backend on port: SIGTERM, wait up to grace, then
// SIGKILL. Stopping an untracked port is a logged no-op.
func (s *Supervisor) Stop(port int, grace time.Duration) {
	lock := s.portLock(port)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	pr := s.procs[port]
	if pr == nil {
		s.mu.Unlock()
		s.log.Debug().Int("port", port).Msg("stop: port not tracked")
		return
	}
	pr.stopping = true
	pr.state = StateDraining
	s.mu.Unlock()

	_ = pr.p.Signal(syscall.SIGTERM)
	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-pr.done:
		case <-timer.C:
			_ = pr.p.Kill()
			<-pr.done
		}
	} else {
		select {
		case <-pr.done:
		default:
			_ = pr.p.Kill()
			<-pr.done
		}
	}

	s.mu.Lock()
	pr.state = StateStopped
	if s.procs[port] == pr {
		delete(s.procs, port)
	}
	s.mu.Unlock()
	s.log.Info().Int("port", port).Msg("backend stopped")
}

// StopAll terminates every tracked backend. Best effort, used at shutdown.
func (s *Supervisor) StopAll(grace time.Duration) {
	s.mu.Lock()
	ports := make([]int, 0, len(s.procs))
	for p := range s.procs {
		ports = append(ports, p)
	}
	s.mu.Unlock()
	for _, p := range ports {
		s.Stop(p, grace)
	}
}

// MarkReady records that the backend on port passed its readiness probe.
func (s *Supervisor) MarkReady(port int) {
	s.setState(port, StateReady)
}

// MarkDraining records that the backend on port has been superseded and is
// finishing in-flight work before Stop.
func (s *Supervisor) MarkDraining(port int) {
	s.setState(port, StateDraining)
}

func (s *Supervisor) setState(port int, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pr := s.procs[port]; pr != nil {
		pr.state = st
	}
}

// Tracked reports whether a process is registered for port.
func (s *Supervisor) Tracked(port int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[port] != nil
}

// Snapshot returns the current process table for status reporting.
func (s *Supervisor) Snapshot() []types.ProcessStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ProcessStatus, 0, len(s.procs))
	for _, pr := range s.procs {
		out = append(out, types.ProcessStatus{
			Port:        pr.port,
			PID:         pr.p.PID(),
			Model:       pr.model,
			Revision:    pr.revision,
			State:       string(pr.state),
			StartedUnix: pr.started.Unix(),
		})
	}
	return out
}
