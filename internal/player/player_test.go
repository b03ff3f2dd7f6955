package player

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dvbrx/internal/journal"
	"dvbrx/internal/logging"
	"dvbrx/internal/source"
	"dvbrx/internal/wakeq"
	"dvbrx/internal/watchdog"
)

// ctlManager adopts whatever core state the test posts on its control queue.
type ctlManager struct {
	kind      source.Kind
	status    *source.Status
	ctl       *wakeq.Queue[source.CoreState]
	startable bool
	state     source.CoreState
	starts    atomic.Int32
	restarts  atomic.Int32
	closed    atomic.Bool
}

func (m *ctlManager) Kind() source.Kind { return m.kind }
func (m *ctlManager) Start() {
	m.starts.Add(1)
	if m.startable {
		m.state.Started = true
	}
}
func (m *ctlManager) Stop(bool, bool)             { m.state = source.CoreState{Counter: m.state.Counter} }
func (m *ctlManager) Restart()                    { m.restarts.Add(1) }
func (m *ctlManager) Reconfig(*source.Config)     {}
func (m *ctlManager) CoreState() source.CoreState { return m.state }
func (m *ctlManager) Status() *source.Status      { return m.status }
func (m *ctlManager) Media() source.Media {
	return source.Media{Path: "/run/dvbrx/" + string(m.kind) + ".ts", Container: "mpegts", FD: -1}
}
func (m *ctlManager) FDs() []int { return []int{m.ctl.FD()} }
func (m *ctlManager) HandleFD(int) {
	for {
		st, err := m.ctl.Recv()
		if err != nil {
			return
		}
		m.state = st
	}
}
func (m *ctlManager) Close() error { m.closed.Store(true); return m.ctl.Close() }

type ctlProvider struct {
	kind      source.Kind
	startable bool

	mu       sync.Mutex
	managers []*ctlManager
}

func (p *ctlProvider) Kind() source.Kind                  { return p.kind }
func (p *ctlProvider) DefaultBand() source.Band           { return source.Band{Kind: p.kind} }
func (p *ctlProvider) Profile(source.Band) source.Profile { return source.Profile{} }
func (p *ctlProvider) NewManager(*source.Config, *slog.Logger) (source.Manager, error) {
	ctl, err := wakeq.New[source.CoreState]()
	if err != nil {
		return nil, err
	}
	m := &ctlManager{kind: p.kind, status: source.NewStatus(p.kind), ctl: ctl, startable: p.startable}
	p.mu.Lock()
	p.managers = append(p.managers, m)
	p.mu.Unlock()
	return m, nil
}

func (p *ctlProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.managers)
}

func (p *ctlProvider) last() *ctlManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.managers[len(p.managers)-1]
}

type fakePlayback struct {
	mu      sync.Mutex
	playing bool
	plays   []source.Media
	stops   int
}

func (f *fakePlayback) Play(media source.Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = true
	f.plays = append(f.plays, media)
	return nil
}

func (f *fakePlayback) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playing {
		f.stops++
	}
	f.playing = false
	return nil
}

func (f *fakePlayback) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakePlayback) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays), f.stops
}

type fakeIndicator struct {
	mu    sync.Mutex
	rx    []bool
	bands []source.Band
}

func (f *fakeIndicator) SetRXGood(good bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, good)
}

func (f *fakeIndicator) SelectBand(band source.Band) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bands = append(f.bands, band)
}

func (f *fakeIndicator) lastRX() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rx) == 0 {
		return false, false
	}
	return f.rx[len(f.rx)-1], true
}

type harness struct {
	player    *Player
	lm        *ctlProvider
	ns        *ctlProvider
	playback  *fakePlayback
	indicator *fakeIndicator
	journal   *journal.Journal
	cancel    context.CancelFunc
	errc      chan error
}

func start(t *testing.T, startable, autoplay bool, wd watchdog.Config) *harness {
	t.Helper()
	lm := &ctlProvider{kind: source.KindLongmynd, startable: startable}
	ns := &ctlProvider{kind: source.KindNetStream, startable: true}
	reg, err := source.NewRegistry(lm, ns)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cfg, err := reg.DefaultConfig(source.KindLongmynd)
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	j, err := journal.Open("test-run")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	h := &harness{lm: lm, ns: ns, playback: &fakePlayback{}, indicator: &fakeIndicator{}, journal: j, errc: make(chan error, 1)}
	h.player, err = New(Options{
		Registry:   reg,
		Initial:    cfg,
		Watchdog:   wd,
		Autoplay:   autoplay,
		Playback:   h.playback,
		Indicators: []Indicator{h.indicator},
		Journal:    j,
		Logger:     logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errc <- h.player.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.player.Done()
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCounterChangeRestartsPlayback(t *testing.T) {
	h := start(t, true, true, watchdog.Config{})
	waitFor(t, "initial start", func() bool { return h.lm.count() == 1 && h.lm.last().starts.Load() == 1 })
	mgr := h.lm.last()

	if err := mgr.ctl.Send(source.CoreState{Started: true, Running: true, Locked: true, Counter: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "playback start", func() bool { plays, _ := h.playback.counts(); return plays == 1 })
	if good, ok := h.indicator.lastRX(); !ok || !good {
		t.Fatal("expected RX good after lock")
	}

	if err := mgr.ctl.Send(source.CoreState{Started: true, Running: true, Locked: true, Counter: 2}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "playback restart", func() bool {
		plays, stops := h.playback.counts()
		return plays == 2 && stops == 1
	})

	if err := mgr.ctl.Send(source.CoreState{Started: true, Running: true, Counter: 2}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "playback stop on unlock", func() bool { return !h.playback.Playing() })
	if good, _ := h.indicator.lastRX(); good {
		t.Fatal("expected RX good cleared after unlock")
	}

	h.playback.mu.Lock()
	media := h.playback.plays[0]
	h.playback.mu.Unlock()
	if media.Path != "/run/dvbrx/longmynd.ts" {
		t.Fatalf("unexpected media %+v", media)
	}
}

func TestWithoutAutoplayOnlyIndicatorFollowsLock(t *testing.T) {
	h := start(t, true, false, watchdog.Config{})
	waitFor(t, "initial start", func() bool { return h.lm.count() == 1 && h.lm.last().starts.Load() == 1 })
	if err := h.lm.last().ctl.Send(source.CoreState{Started: true, Running: true, Locked: true, Counter: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "rx good", func() bool { good, _ := h.indicator.lastRX(); return good })
	if plays, _ := h.playback.counts(); plays != 0 {
		t.Fatalf("expected no playback without autoplay, got %d", plays)
	}
}

func TestUnstartedSourceIsRetriedWithBackoff(t *testing.T) {
	h := start(t, false, true, watchdog.Config{Min: 10 * time.Millisecond, Max: 40 * time.Millisecond, Rate: 2})
	waitFor(t, "watchdog retries", func() bool { return h.lm.count() == 1 && h.lm.last().starts.Load() >= 4 })

	report, err := h.player.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if report.Watchdog.Delay != 40*time.Millisecond {
		t.Fatalf("expected delay capped at 40ms, got %s", report.Watchdog.Delay)
	}

	events, err := h.journal.Since(context.Background(), journal.Query{Kinds: []journal.Kind{journal.KindRestart}})
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(events) < 3 {
		t.Fatalf("expected watchdog restarts in journal, got %d", len(events))
	}
}

func TestRunningSourceServicesWatchdog(t *testing.T) {
	h := start(t, true, false, watchdog.Config{Min: 10 * time.Millisecond})
	waitFor(t, "initial start", func() bool { return h.lm.count() == 1 && h.lm.last().starts.Load() == 1 })
	if err := h.lm.last().ctl.Send(source.CoreState{Started: true, Running: true}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "running", func() bool {
		report, err := h.player.Status(context.Background())
		return err == nil && report.State.Running
	})
	report, _ := h.player.Status(context.Background())
	if report.Watchdog.Pending {
		t.Fatal("running source must not have a pending restart")
	}
}

func TestTuneAcrossKindsRebuildsSource(t *testing.T) {
	h := start(t, true, true, watchdog.Config{})
	waitFor(t, "initial start", func() bool { return h.lm.count() == 1 && h.lm.last().starts.Load() == 1 })
	old := h.lm.last()

	band := source.Band{Kind: source.KindNetStream, Domain: "example.org", App: "live", GPIOID: 3}
	report, err := h.player.Tune(context.Background(), band, nil)
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	if report.Kind != source.KindNetStream || report.Band != band {
		t.Fatalf("unexpected report %+v", report)
	}
	if !old.closed.Load() {
		t.Fatal("expected previous manager to be closed")
	}
	waitFor(t, "new source start", func() bool { return h.ns.count() == 1 && h.ns.last().starts.Load() == 1 })

	h.indicator.mu.Lock()
	bands := append([]source.Band(nil), h.indicator.bands...)
	h.indicator.mu.Unlock()
	if len(bands) != 2 || bands[1] != band {
		t.Fatalf("unexpected band selections %+v", bands)
	}

	events, err := h.journal.Since(context.Background(), journal.Query{Kinds: []journal.Kind{journal.KindTune}})
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(events) != 2 || events[1].SourceKind != source.KindNetStream {
		t.Fatalf("unexpected tune events %+v", events)
	}
}

func TestTuneUnknownSourceFails(t *testing.T) {
	h := start(t, true, false, watchdog.Config{})
	_, err := h.player.Tune(context.Background(), source.Band{Kind: source.KindCombiTuner}, nil)
	if !errors.Is(err, source.ErrUnknownSource) {
		t.Fatalf("expected unknown source error, got %v", err)
	}
}

func TestRestartRequestReachesManager(t *testing.T) {
	h := start(t, true, false, watchdog.Config{})
	waitFor(t, "initial start", func() bool { return h.lm.count() == 1 })
	if _, err := h.player.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	waitFor(t, "restart", func() bool { return h.lm.last().restarts.Load() == 1 })
}

func TestCancelStopsPlayer(t *testing.T) {
	h := start(t, true, true, watchdog.Config{})
	waitFor(t, "initial start", func() bool { return h.lm.count() == 1 })
	h.cancel()
	select {
	case err := <-h.errc:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if _, err := h.player.Status(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if !h.lm.last().closed.Load() {
		t.Fatal("expected manager closed on shutdown")
	}
}

func TestCommandPlaybackArgv(t *testing.T) {
	media := source.Media{Path: "/run/dvbrx/longmynd.ts", FD: -1}
	tests := []struct {
		name    string
		command string
		want    []string
	}{
		{name: "appended", command: "ffplay -autoexit", want: []string{"ffplay", "-autoexit", "/run/dvbrx/longmynd.ts"}},
		{name: "placeholder", command: "mpv --input={media} --fs", want: []string{"mpv", "--input=/run/dvbrx/longmynd.ts", "--fs"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NewCommandPlayback(tc.command, nil).argv(media)
			if len(got) != len(tc.want) {
				t.Fatalf("argv: got %v want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("argv: got %v want %v", got, tc.want)
				}
			}
		})
	}
	if NewCommandPlayback("   ", nil) != nil {
		t.Fatal("expected nil playback for blank command")
	}
}

func TestCommandPlaybackStartStop(t *testing.T) {
	pb := NewCommandPlayback("sleep 30 {media}", nil)
	if err := pb.Play(source.Media{Path: "5", FD: -1}); err != nil {
		t.Skipf("sleep unavailable: %v", err)
	}
	if !pb.Playing() {
		t.Fatal("expected player to be running")
	}
	if err := pb.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if pb.Playing() {
		t.Fatal("expected player to be stopped")
	}
}
