package runner

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"dvbrx/internal/logging"
	"dvbrx/internal/source"
)

type fakeManager struct {
	kind   source.Kind
	status *source.Status
	state  source.CoreState
	closed atomic.Bool

	mu    sync.Mutex
	calls []string
}

func (m *fakeManager) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *fakeManager) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

func (m *fakeManager) Kind() source.Kind { return m.kind }
func (m *fakeManager) Start() {
	m.record("start")
	m.state.Started = true
	m.status.Update(func(s *source.Snapshot) { s.Provider = "X" })
	m.status.Update(func(s *source.Snapshot) { s.Provider = "Y" })
}
func (m *fakeManager) Stop(bool, bool)             { m.record("stop") }
func (m *fakeManager) Restart()                    { m.record("restart"); m.state.Counter++ }
func (m *fakeManager) Reconfig(*source.Config)     { m.record("reconfig") }
func (m *fakeManager) CoreState() source.CoreState { return m.state }
func (m *fakeManager) Status() *source.Status      { return m.status }
func (m *fakeManager) FDs() []int                  { return nil }
func (m *fakeManager) HandleFD(int)                {}
func (m *fakeManager) Close() error                { m.closed.Store(true); return nil }
func (m *fakeManager) Media() source.Media {
	return source.Media{Path: "/tmp/" + string(m.kind), FD: -1}
}

type fakeProvider struct {
	kind source.Kind
	fail error

	mu       sync.Mutex
	managers []*fakeManager
}

func (p *fakeProvider) Kind() source.Kind                  { return p.kind }
func (p *fakeProvider) DefaultBand() source.Band           { return source.Band{Kind: p.kind} }
func (p *fakeProvider) Profile(source.Band) source.Profile { return source.Profile{} }
func (p *fakeProvider) NewManager(cfg *source.Config, _ *slog.Logger) (source.Manager, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	m := &fakeManager{kind: p.kind, status: source.NewStatus(p.kind)}
	p.mu.Lock()
	p.managers = append(p.managers, m)
	p.mu.Unlock()
	return m, nil
}

func (p *fakeProvider) last() *fakeManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.managers[len(p.managers)-1]
}

func setup(t *testing.T) (*source.Registry, *fakeProvider, *fakeProvider) {
	t.Helper()
	a := &fakeProvider{kind: source.KindLongmynd}
	b := &fakeProvider{kind: source.KindNetStream}
	reg, err := source.NewRegistry(a, b)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg, a, b
}

func pump(t *testing.T, r *Runner, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached, state %s", r.CoreState())
		}
		fd := r.FDs()[0]
		pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		if n, err := unix.Poll(pfds, 20); err == nil && n > 0 {
			r.HandleFD(fd)
		}
	}
}

func TestCommandsReachWorkerInOrder(t *testing.T) {
	reg, a, _ := setup(t)
	cfg, _ := reg.DefaultConfig(source.KindLongmynd)
	r, err := New(reg, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if err := r.Reconfig(cfg); err != nil {
		t.Fatalf("Reconfig: %v", err)
	}
	m := a.last()
	pump(t, r, func() bool { return len(m.Calls()) == 3 })
	if got := m.Calls(); !slices.Equal(got, []string{"start", "restart", "reconfig"}) {
		t.Fatalf("calls: %v", got)
	}
}

func TestSnapshotsArriveInOrder(t *testing.T) {
	reg, _, _ := setup(t)
	cfg, _ := reg.DefaultConfig(source.KindLongmynd)
	r, err := New(reg, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()

	var seen []string
	r.Status().OnChange(func(s source.Snapshot) { seen = append(seen, s.Provider) })
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pump(t, r, func() bool { return len(seen) == 2 && r.CoreState().Started })
	if !slices.Equal(seen, []string{"X", "Y"}) {
		t.Fatalf("snapshots: %v", seen)
	}
}

func TestCoreStatePostedOnChange(t *testing.T) {
	reg, _, _ := setup(t)
	cfg, _ := reg.DefaultConfig(source.KindLongmynd)
	r, err := New(reg, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()

	r.Start()
	r.Restart()
	pump(t, r, func() bool { return r.CoreState().Counter == 1 })
	if !r.CoreState().Started {
		t.Fatalf("state: %s", r.CoreState())
	}
}

func TestReconfigAcrossKindsKeepsSubscribers(t *testing.T) {
	reg, a, b := setup(t)
	cfg, _ := reg.DefaultConfig(source.KindLongmynd)
	r, err := New(reg, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()
	old := a.last()

	var providers []string
	r.Status().OnChange(func(s source.Snapshot) {
		if s.Kind == source.KindNetStream {
			providers = append(providers, s.Provider)
		}
	})

	next, _ := reg.DefaultConfig(source.KindNetStream)
	if err := r.Reconfig(next); err != nil {
		t.Fatalf("Reconfig: %v", err)
	}
	if !old.closed.Load() {
		t.Fatal("old manager should be closed")
	}
	if r.Kind() != source.KindNetStream || r.Media().Path != "/tmp/netstream" {
		t.Fatalf("runner not switched: %s %+v", r.Kind(), r.Media())
	}
	pump(t, r, func() bool { return len(providers) >= 3 })
	if !slices.Equal(providers, []string{"", "X", "Y"}) {
		t.Fatalf("subscriber saw %v", providers)
	}
	if got := b.last().Calls(); !slices.Equal(got, []string{"start"}) {
		t.Fatalf("new manager calls: %v", got)
	}
	if r.Status().Observers() != 1 {
		t.Fatalf("observers: %d", r.Status().Observers())
	}
}

func TestShutdownClosesManager(t *testing.T) {
	reg, a, _ := setup(t)
	cfg, _ := reg.DefaultConfig(source.KindLongmynd)
	r, err := New(reg, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Shutdown()
	if !a.last().closed.Load() {
		t.Fatal("manager not closed")
	}
	if err := r.Start(); err != ErrClosed {
		t.Fatalf("Start after shutdown: %v", err)
	}
	if r.FDs() != nil {
		t.Fatal("expected no descriptors after shutdown")
	}
}

func TestFailedSwitchKeepsCurrentManager(t *testing.T) {
	reg, a, b := setup(t)
	b.fail = errors.New("no tuner")
	cfg, _ := reg.DefaultConfig(source.KindLongmynd)
	r, err := New(reg, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pump(t, r, func() bool { return r.CoreState().Started })

	other, _ := reg.DefaultConfig(source.KindNetStream)
	if err := r.Reconfig(other); !errors.Is(err, b.fail) {
		t.Fatalf("Reconfig to failing kind: %v", err)
	}
	if r.Kind() != source.KindLongmynd || a.last().closed.Load() {
		t.Fatalf("current manager torn down: kind %s", r.Kind())
	}
	if len(r.FDs()) != 1 {
		t.Fatalf("FDs: %v", r.FDs())
	}

	b.fail = nil
	if err := r.Reconfig(other); err != nil {
		t.Fatalf("Reconfig after recovery: %v", err)
	}
	if r.Kind() != source.KindNetStream || !a.last().closed.Load() {
		t.Fatalf("switch did not happen: kind %s", r.Kind())
	}
	if r.CoreState().Started {
		t.Fatalf("state carried over from the old manager: %s", r.CoreState())
	}
}

func TestReconfigRespawnsMissingWorker(t *testing.T) {
	reg, a, _ := setup(t)
	cfg, _ := reg.DefaultConfig(source.KindLongmynd)
	r, err := New(reg, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pump(t, r, func() bool { return r.CoreState().Started })

	r.stopWorker()
	if r.CoreState().Started {
		t.Fatalf("state survived the worker: %s", r.CoreState())
	}
	if err := r.Start(); !errors.Is(err, ErrNoManager) {
		t.Fatalf("Start without worker: %v", err)
	}
	if err := r.Reconfig(cfg); err != nil {
		t.Fatalf("Reconfig: %v", err)
	}
	m := a.last()
	pump(t, r, func() bool { return r.CoreState().Started })
	if got := m.Calls(); !slices.Equal(got, []string{"start"}) {
		t.Fatalf("new manager calls: %v", got)
	}
}
