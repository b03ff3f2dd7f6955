package longmynd

import (
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"dvbrx/internal/hardware"
	"dvbrx/internal/logging"
	"dvbrx/internal/source"
	"dvbrx/internal/source/process"
)

var milestoneLines = []string{
	"      Status: opened fifo ok",
	"      Status: opened fifo ok",
	"      Status: MPSSE 0x0403:0x6010",
	"      Status: STV0910 MID = 0x51, DID = 0x20",
	"      Status: tuner: stv6120 found",
	"      Status: found new NIM with LNAs",
	"      Status: found new NIM with LNAs",
}

func TestStartupMilestonesAnyOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		lines := slices.Clone(milestoneLines)
		rng.Shuffle(len(lines), func(a, b int) { lines[a], lines[b] = lines[b], lines[a] })
		var tr startupTracker
		for _, line := range lines {
			if got := tr.feed(line); got != lineOK {
				t.Fatalf("line %q classified %d", line, got)
			}
		}
		if !tr.ready {
			t.Fatalf("order %q: expected ready", lines)
		}
	}
}

func TestStartupMissingMilestone(t *testing.T) {
	for skip := range milestoneLines {
		var tr startupTracker
		for i, line := range milestoneLines {
			if i != skip {
				tr.feed(line)
			}
		}
		if tr.ready {
			t.Fatalf("ready without %q", milestoneLines[skip])
		}
	}
}

func TestStartupErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  []lineResult
	}{
		{
			name:  "plain error is fatal",
			lines: []string{"ERROR: demod init failed"},
			want:  []lineResult{lineFatal},
		},
		{
			name:  "auto reset sequence",
			lines: []string{"ERROR: Tuner set freq", "ERROR: Failed to init Tuner", "Flow: Caught tuner lock timeout, 3 attempts at stv6120_init() remaining."},
			want:  []lineResult{lineOK, lineOK, lineAutoReset},
		},
		{
			name:  "auto reset after lock timeout",
			lines: []string{"ERROR: tuner wait on lock timed out", "ERROR: Tuner set freq", "ERROR: Failed to init Tuner", "Flow: Caught tuner lock timeout, 1 attempts at stv6120_init() remaining."},
			want:  []lineResult{lineOK, lineOK, lineOK, lineAutoReset},
		},
		{
			name:  "auto reset without attempts remaining",
			lines: []string{"ERROR: Tuner set freq", "ERROR: Failed to init Tuner", "Flow: Caught tuner lock timeout, giving up"},
			want:  []lineResult{lineOK, lineOK, lineFatal},
		},
		{
			name:  "auto reset out of order",
			lines: []string{"ERROR: Tuner set freq", "Status: something else"},
			want:  []lineResult{lineOK, lineFatal},
		},
		{
			name:  "amplifier errors tolerated",
			lines: []string{"Flow: LNA init", "ERROR: lna read", "ERROR: i2c read reg8", "Status: found an older NIM with no LNA"},
			want:  []lineResult{lineOK, lineOK, lineOK, lineOK},
		},
		{
			name:  "too many amplifier errors",
			lines: []string{"Flow: LNA init", "ERROR: i2c read reg8", "ERROR: i2c read reg8", "Status: found an older NIM with no LNA"},
			want:  []lineResult{lineOK, lineOK, lineOK, lineFatal},
		},
		{
			name:  "i2c error outside amplifier init",
			lines: []string{"ERROR: i2c read reg8"},
			want:  []lineResult{lineFatal},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr startupTracker
			var got []lineResult
			for _, line := range tt.lines {
				got = append(got, tr.feed(line))
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func newParser() *statusParser {
	return newStatusParser(source.Band{Kind: source.KindLongmynd}, source.NewStatus(source.KindLongmynd), logging.NewNop())
}

func TestPairAccumulatorCommits(t *testing.T) {
	p := newParser()
	for _, line := range []string{"$16,101", "$17,27", "$16,102", "$17,3", "$12,80"} {
		p.handleLine(line)
	}
	want := map[int]source.Codec{101: source.CodecH264, 102: source.CodecMPA}
	got := p.status.Snapshot().Streams
	if len(got) != len(want) || got[101] != want[101] || got[102] != want[102] {
		t.Fatalf("streams: got %v want %v", got, want)
	}
}

func TestPairAccumulatorTypeFirst(t *testing.T) {
	p := newParser()
	for _, line := range []string{"$17,27", "$16,101", "$1,4"} {
		p.handleLine(line)
	}
	if got := p.status.Snapshot().Streams; got[101] != source.CodecH264 {
		t.Fatalf("streams: %v", got)
	}
}

func TestPairAccumulatorDuplicateSlot(t *testing.T) {
	p := newParser()
	for _, line := range []string{"$16,101", "$16,102", "$12,80"} {
		p.handleLine(line)
	}
	if got := p.status.Snapshot().Streams; len(got) != 0 {
		t.Fatalf("expected empty stream map after fault, got %v", got)
	}
	if len(p.last.streams) != 0 {
		t.Fatalf("identity streams: %v", p.last.streams)
	}

	for _, line := range []string{"$16,201", "$17,36", "$14,next"} {
		p.handleLine(line)
	}
	if got := p.status.Snapshot().Streams; got[201] != source.CodecH265 {
		t.Fatalf("accumulator should recover after a fault: %v", got)
	}
}

func TestParserLockAndCounter(t *testing.T) {
	p := newParser()
	p.handleLine("$1,1")
	if p.locked() {
		t.Fatal("searching should not be locked")
	}
	start := p.counter

	for _, line := range []string{"$1,4", "$13,GB3HV", "$14,Test Card", "$18,6", "$12,61"} {
		p.handleLine(line)
	}
	if !p.locked() {
		t.Fatal("expected lock")
	}
	snap := p.status.Snapshot()
	if snap.Provider != "GB3HV" || snap.Service != "Test Card" {
		t.Fatalf("names: %+v", snap)
	}
	if snap.Modulation.Name != "DVB-S2 QPSK 2/3" {
		t.Fatalf("modulation: %+v", snap.Modulation)
	}
	if m, ok := snap.Margin(); !ok || m != 3.0 {
		t.Fatalf("margin: %v %t", m, ok)
	}
	// state, provider, service and modcode each change the identity once
	if p.counter != start+4 {
		t.Fatalf("counter: got %d want %d", p.counter, start+4)
	}

	before := p.counter
	p.handleLine("$12,70")
	p.handleLine("$1,4")
	if p.counter != before {
		t.Fatalf("telemetry alone should not advance counter")
	}

	p.handleLine("$1,2")
	if p.locked() {
		t.Fatal("expected unlock")
	}
	if p.counter != before+1 {
		t.Fatalf("unlock should advance counter exactly once, got %d", p.counter-before)
	}
	snap = p.status.Snapshot()
	if snap.Provider != "" || snap.Service != "" || snap.Modulation.Name != "" {
		t.Fatalf("unlock should clear identity: %+v", snap)
	}
}

func TestParserIgnoresNoise(t *testing.T) {
	p := newParser()
	for _, line := range []string{"hello", "$x,1", "$99,5", "$1"} {
		p.handleLine(line)
	}
	if !p.received {
		t.Fatal("any line counts as received")
	}
	if p.last.hasState {
		t.Fatal("noise should not set state")
	}
}

func TestParserFrequencyMappedThroughBand(t *testing.T) {
	p := newStatusParser(source.Band{Kind: source.KindLongmynd, LOFreq: 9750000, LOSide: source.LOSideLow},
		source.NewStatus(source.KindLongmynd), logging.NewNop())
	p.handleLine("$6,741500")
	if got := p.status.Snapshot().Freq; got != 10491500 {
		t.Fatalf("freq: got %d", got)
	}
}

func TestPowerLevel(t *testing.T) {
	tests := []struct {
		agc1, agc2, want int
	}{
		{0, 182, -71},
		{0, 5000, -97},
		{0, 212, -72},
		{0, 213, -73},
		{30000, 0, -62},
		{37700, 0, -35},
	}
	for _, tt := range tests {
		if got := powerLevel(tt.agc1, tt.agc2); got != tt.want {
			t.Errorf("powerLevel(%d, %d) = %d want %d", tt.agc1, tt.agc2, got, tt.want)
		}
	}
}

func TestBuildArgs(t *testing.T) {
	band := source.Band{Kind: source.KindLongmynd, LOFreq: 9750000, LOSide: source.LOSideLow, Port: source.PortBottom, Polarity: source.PolarityHorizontal}
	p := NewProvider(Options{}, nil, nil)
	cfg := source.NewConfig(band, p.Profile(band))
	if err := cfg.Apply(map[string]source.ParamValue{
		source.ParamFreq:       source.IntListValue(10491500, 10492000),
		source.ParamSymbolRate: source.IntListValue(1500, 333),
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	opts := Options{Binary: "/opt/longmynd", MediaPath: "/tmp/m", StatusPath: "/tmp/s", TSTimeout: 5000}
	got := buildArgs(opts, cfg, hardware.Device{Bus: 1, Address: 4})
	want := []string{"/opt/longmynd", "-t", "/tmp/m", "-s", "/tmp/s", "-r", "5000", "-u", "1", "4", "-w", "-p", "h", "741500,742000", "1500,333"}
	if !slices.Equal(got, want) {
		t.Fatalf("argv:\n got %q\nwant %q", got, want)
	}
}

type fakeFinder struct {
	dev hardware.Device
	err error
}

func (f fakeFinder) Find(...string) (hardware.Device, error) { return f.dev, f.err }

type fakeChild struct {
	exited     atomic.Bool
	terminated atomic.Bool
	killed     atomic.Bool
}

func (c *fakeChild) Pid() int { return 1234 }
func (c *fakeChild) Terminate() error {
	c.terminated.Store(true)
	c.exited.Store(true)
	return nil
}
func (c *fakeChild) Kill() error {
	c.killed.Store(true)
	c.exited.Store(true)
	return nil
}
func (c *fakeChild) Exited() bool { return c.exited.Load() }
func (c *fakeChild) Wait(d time.Duration) bool {
	if !c.exited.Load() {
		time.Sleep(d)
	}
	return c.exited.Load()
}

type fakeLauncher struct {
	argv     []string
	output   *os.File
	children []*fakeChild
}

func (l *fakeLauncher) Launch(argv []string, output *os.File) (process.Child, error) {
	l.argv = argv
	l.output = output
	c := &fakeChild{}
	l.children = append(l.children, c)
	return c, nil
}

func newTestManager(t *testing.T, finder hardware.Finder) (*Manager, *fakeLauncher) {
	t.Helper()
	dir := t.TempDir()
	opts := Options{
		Binary:     "longmynd",
		MediaPath:  filepath.Join(dir, "media"),
		StatusPath: filepath.Join(dir, "status"),
		TSTimeout:  5000,
		Grace:      20 * time.Millisecond,
	}
	launcher := &fakeLauncher{}
	p := NewProvider(opts, finder, launcher)
	cfg := source.NewConfig(p.DefaultBand(), p.Profile(p.DefaultBand()))
	mgr, err := p.NewManager(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	m := mgr.(*Manager)
	m.sleep = func(time.Duration) {}
	t.Cleanup(func() { m.Close() })
	return m, launcher
}

func pump(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fds := m.FDs()
		pfds := make([]unix.PollFd, len(fds))
		for i, fd := range fds {
			pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
		}
		n, err := unix.Poll(pfds, 50)
		if err != nil && err != unix.EINTR {
			t.Fatalf("poll: %v", err)
		}
		if n <= 0 {
			return
		}
		for i, pfd := range pfds {
			if pfd.Revents&unix.POLLIN != 0 {
				m.HandleFD(fds[i])
			}
		}
	}
}

func writeStatus(t *testing.T, m *Manager, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(m.opts.StatusPath, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open status: %v", err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			t.Fatalf("write status: %v", err)
		}
	}
}

func writeOutput(t *testing.T, l *fakeLauncher, lines ...string) {
	t.Helper()
	for _, line := range lines {
		if _, err := l.output.WriteString(line + "\n"); err != nil {
			t.Fatalf("write output: %v", err)
		}
	}
}

func TestManagerLifecycle(t *testing.T) {
	m, launcher := newTestManager(t, fakeFinder{dev: hardware.Device{Bus: 3, Address: 7, Product: "MiniTiouner"}})

	m.Start()
	if launcher.argv == nil {
		t.Fatal("expected launch")
	}
	if !slices.Contains(launcher.argv, "-u") || launcher.argv[len(launcher.argv)-2] != "741500" {
		t.Fatalf("argv: %q", launcher.argv)
	}
	state := m.CoreState()
	if !state.Started || state.Running {
		t.Fatalf("after launch: %s", state)
	}

	writeOutput(t, launcher, milestoneLines...)
	pump(t, m)
	if m.CoreState().Running {
		t.Fatal("running requires status traffic")
	}
	writeStatus(t, m, "$1,3", "$13,GB3HV")
	pump(t, m)
	state = m.CoreState()
	if !state.Running || !state.Locked {
		t.Fatalf("expected running and locked: %s", state)
	}

	writeOutput(t, launcher, "ERROR: Tuner set freq", "ERROR: Failed to init Tuner", "Flow: Caught tuner lock timeout, 2 attempts at stv6120_init() remaining.")
	pump(t, m)
	if !m.CoreState().Running {
		t.Fatal("auto reset should leave the receiver running")
	}

	writeOutput(t, launcher, "ERROR: Tuner set freq", "ERROR: Failed to init Tuner", "Flow: Caught tuner lock timeout, giving up")
	pump(t, m)
	child := launcher.children[0]
	if !child.killed.Load() {
		t.Fatal("fatal sequence should stop with waitFirst and kill after grace")
	}
	if child.terminated.Load() {
		t.Fatal("fatal stop should wait rather than terminate")
	}
	if m.CoreState().Started {
		t.Fatal("manager should be stopped")
	}
}

func TestManagerStartGuards(t *testing.T) {
	m, launcher := newTestManager(t, fakeFinder{err: hardware.ErrNotFound})
	m.Start()
	if launcher.argv != nil {
		t.Fatal("should not launch without hardware")
	}

	m2, launcher2 := newTestManager(t, fakeFinder{dev: hardware.Device{Bus: 1, Address: 2}})
	bad := m2.cfg.Clone()
	if err := bad.Set(source.ParamFreq, source.IntListValue(1)); err != nil {
		t.Fatalf("set: %v", err)
	}
	m2.Reconfig(bad)
	if launcher2.argv != nil {
		t.Fatal("should not launch with an invalid config")
	}
}

func TestManagerReconfigRestartsOnlyOnChange(t *testing.T) {
	m, launcher := newTestManager(t, fakeFinder{dev: hardware.Device{Bus: 1, Address: 2}})
	m.Start()
	if len(launcher.children) != 1 {
		t.Fatalf("children: %d", len(launcher.children))
	}

	m.Reconfig(m.cfg.Clone())
	if len(launcher.children) != 1 {
		t.Fatal("identical config should not restart")
	}

	next := m.cfg.Clone()
	if err := next.Set(source.ParamFreq, source.IntListValue(1296000)); err != nil {
		t.Fatalf("set: %v", err)
	}
	m.Reconfig(next)
	if len(launcher.children) != 2 {
		t.Fatalf("changed config should restart, children=%d", len(launcher.children))
	}
	if !launcher.children[0].terminated.Load() {
		t.Fatal("old child should be terminated")
	}
	if launcher.argv[len(launcher.argv)-2] != "1296000" {
		t.Fatalf("argv: %q", launcher.argv)
	}
}
