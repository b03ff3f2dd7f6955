package testsupport

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"dvbrx/internal/source"
)

// IdleManager starts without any backend process and never locks. It
// satisfies source.Manager for tests that only exercise control paths.
type IdleManager struct {
	kind    source.Kind
	status  *source.Status
	state   source.CoreState
	starts  atomic.Int32
	closed  atomic.Bool
	lastCfg *source.Config
}

func (m *IdleManager) Kind() source.Kind { return m.kind }
func (m *IdleManager) Start() {
	m.starts.Add(1)
	m.state.Started = true
	m.state.Running = true
}
func (m *IdleManager) Stop(bool, bool)             { m.state = source.CoreState{Counter: m.state.Counter} }
func (m *IdleManager) Restart()                    { m.Stop(false, false); m.Start() }
func (m *IdleManager) Reconfig(cfg *source.Config) { m.lastCfg = cfg }
func (m *IdleManager) CoreState() source.CoreState { return m.state }
func (m *IdleManager) Status() *source.Status      { return m.status }
func (m *IdleManager) FDs() []int                  { return nil }
func (m *IdleManager) HandleFD(int)                {}
func (m *IdleManager) Close() error                { m.closed.Store(true); return nil }
func (m *IdleManager) Starts() int                 { return int(m.starts.Load()) }
func (m *IdleManager) Closed() bool                { return m.closed.Load() }
func (m *IdleManager) Media() source.Media {
	return source.Media{Path: "/dev/null", Container: "mpegts", FD: -1}
}

// IdleProvider builds IdleManagers and remembers every one it built.
type IdleProvider struct {
	kind source.Kind

	mu       sync.Mutex
	managers []*IdleManager
}

// NewIdleProvider returns a provider for kind.
func NewIdleProvider(kind source.Kind) *IdleProvider {
	return &IdleProvider{kind: kind}
}

func (p *IdleProvider) Kind() source.Kind                  { return p.kind }
func (p *IdleProvider) DefaultBand() source.Band           { return source.Band{Kind: p.kind} }
func (p *IdleProvider) Profile(source.Band) source.Profile { return source.Profile{} }
func (p *IdleProvider) NewManager(*source.Config, *slog.Logger) (source.Manager, error) {
	m := &IdleManager{kind: p.kind, status: source.NewStatus(p.kind)}
	p.mu.Lock()
	p.managers = append(p.managers, m)
	p.mu.Unlock()
	return m, nil
}

// Managers returns the managers built so far.
func (p *IdleProvider) Managers() []*IdleManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*IdleManager(nil), p.managers...)
}

// NewIdleRegistry builds a registry of idle providers for the tuner kinds.
func NewIdleRegistry(t testing.TB) (*source.Registry, map[source.Kind]*IdleProvider) {
	t.Helper()

	providers := map[source.Kind]*IdleProvider{
		source.KindLongmynd:   NewIdleProvider(source.KindLongmynd),
		source.KindCombiTuner: NewIdleProvider(source.KindCombiTuner),
	}
	reg, err := source.NewRegistry(providers[source.KindLongmynd], providers[source.KindCombiTuner])
	if err != nil {
		t.Fatalf("source.NewRegistry: %v", err)
	}
	return reg, providers
}
