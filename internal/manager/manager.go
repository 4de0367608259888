package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultReadyTimeout = 10 * time.Minute
	defaultGraceTimeout = 10 * time.Second
)

// ProcessSupervisor is the slice of the supervisor the coordinator drives.
type ProcessSupervisor interface {
	Start(port int, model, revision string) error
	Stop(port int, grace time.Duration)
	MarkReady(port int)
	MarkDraining(port int)
	Tracked(port int) bool
	Snapshot() []types.ProcessStatus
}

// ReadinessProbe checks that a backend has finished loading its model.
type ReadinessProbe interface {
	WaitReady(ctx context.Context, baseURL string, timeout time.Duration) error
}

// Config encapsulates tunables for Manager construction.
type Config struct {
	Host string
	// First port handed to a backend. Later allocations count upward and
	// are never reused, even across failed reloads.
	BasePort        int
	DefaultModel    string
	DefaultRevision string
	ReadyTimeout    time.Duration
	GraceTimeout    time.Duration
}

// Manager is the hot-reload coordinator. It owns the routing state (which
// port live chat traffic targets) and is the only writer of it; the relay
// reads the active port through ActiveTarget without contending with a
// reload in flight.
type Manager struct {
	cfg       Config
	sup       ProcessSupervisor
	prober    ReadinessProbe
	publisher EventPublisher
	log       zerolog.Logger

	// reloadMu is the reload gate: at most one swap in flight system-wide.
	reloadMu  sync.Mutex
	reloading bool

	mu             sync.RWMutex
	activePort     int // 0 = no backend serving
	activeModel    string
	activeRevision string
	lastPort       int
	reloads        uint64
	reloadFailures uint64
	lastErr        string
	startTime      time.Time
}

// New constructs a Manager. The port counter is seeded one below BasePort so
// the first allocation lands exactly on it.
func New(cfg Config, sup ProcessSupervisor, prober ReadinessProbe, log zerolog.Logger) *Manager {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = defaultGraceTimeout
	}
	return &Manager{
		cfg:       cfg,
		sup:       sup,
		prober:    prober,
		publisher: noopPublisher{},
		log:       log.With().Str("component", "manager").Logger(),
		lastPort:  cfg.BasePort - 1,
		startTime: time.Now(),
	}
}

// SetPublisher installs an EventPublisher for lifecycle events.
func (m *Manager) SetPublisher(p EventPublisher) {
	if p == nil {
		m.publisher = noopPublisher{}
		return
	}
	m.publisher = p
}

// ActiveTarget returns the port chat traffic should go to right now.
// ok is false while no backend is serving (cold start pending or the active
// backend crashed).
func (m *Manager) ActiveTarget() (port int, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activePort, m.activePort != 0
}

// ActiveModel returns the model identifier served by the active backend.
func (m *Manager) ActiveModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeModel
}

// Ready reports whether a backend is serving.
func (m *Manager) Ready() bool {
	_, ok := m.ActiveTarget()
	return ok
}

func (m *Manager) baseURL(port int) string {
	return fmt.Sprintf("http://%s:%d", m.cfg.Host, port)
}

// Status builds the response for GET /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	resp := types.StatusResponse{
		ActivePort:          m.activePort,
		ActiveModel:         m.activeModel,
		ActiveRevision:      m.activeRevision,
		ReloadsTotal:        m.reloads,
		ReloadFailuresTotal: m.reloadFailures,
		LastError:           m.lastErr,
		UptimeSeconds:       int64(time.Since(m.startTime) / time.Second),
		ServerTimeUnix:      time.Now().Unix(),
		Reloading:           m.reloading,
	}
	m.mu.RUnlock()
	resp.Processes = m.sup.Snapshot()
	return resp
}
