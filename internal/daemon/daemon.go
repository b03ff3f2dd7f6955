package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"dvbrx/internal/config"
	"dvbrx/internal/deps"
	"dvbrx/internal/hardware"
	"dvbrx/internal/journal"
	"dvbrx/internal/logging"
	"dvbrx/internal/player"
	"dvbrx/internal/source"
	"dvbrx/internal/source/process"
	"dvbrx/internal/sources"
	"dvbrx/internal/watchdog"
)

// ErrNotRunning is returned by receiver operations while the daemon is stopped.
var ErrNotRunning = errors.New("receiver is not running")

// Options wires a daemon. Only Config is required.
type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Journal *journal.Journal
	LogPath string
	// Registry overrides the backends built from Config.
	Registry   *source.Registry
	Launcher   process.Launcher
	Playback   player.Playback
	Indicators []player.Indicator
	Sinks      []player.StateSink
}

// Daemon owns the receiver loop and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	journal  *journal.Journal
	logPath  string
	registry *source.Registry
	scanner  *hardware.Scanner
	monitor  *hardware.Monitor

	playback   player.Playback
	indicators []player.Indicator
	sinks      []player.StateSink

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	player  *player.Player
	cancel  context.CancelFunc
	running atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	LockFilePath string
	LogPath      string
	RunID        string
	Hotplug      bool
	// Receiver is nil while the daemon is stopped.
	Receiver     *player.Report
	EventCounts  map[journal.Kind]int
	Dependencies []deps.Status
}

// TuneRequest selects a band by library name, by preset or inline. Values
// override the preset's values.
type TuneRequest struct {
	Band   string
	Preset string
	Inline *config.BandEntry
	Values map[string]any
}

// New constructs a daemon. The source registry is built here so that tuning
// requests can be validated before the receiver starts.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	scanner := hardware.NewScanner(cfg.Hardware.SysfsRoot, cfg.CacheTTL())
	registry := opts.Registry
	if registry == nil {
		var err error
		registry, err = sources.Build(cfg, scanner, opts.Launcher)
		if err != nil {
			return nil, fmt.Errorf("build sources: %w", err)
		}
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		journal:    opts.Journal,
		logPath:    opts.LogPath,
		registry:   registry,
		scanner:    scanner,
		playback:   opts.Playback,
		indicators: opts.Indicators,
		sinks:      opts.Sinks,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	if cfg.Hardware.Hotplug {
		d.monitor = hardware.NewMonitor(scanner, logger, d.hardwareChanged)
	}
	return d, nil
}

// Start acquires the daemon lock and starts the receiver on the configured
// default tune.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another dvbrx daemon instance is already running")
	}

	initial, err := sources.Initial(d.registry, d.cfg)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("initial tune: %w", err)
	}
	p, err := player.New(player.Options{
		Registry:   d.registry,
		Initial:    initial,
		Watchdog:   watchdogConfig(d.cfg.Watchdog),
		Autoplay:   d.cfg.Playback.Autoplay,
		Playback:   d.playback,
		Indicators: d.indicators,
		Sinks:      d.sinks,
		Journal:    d.journal,
		Logger:     d.logger,
	})
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("create player: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.player = p
	d.cancel = cancel
	d.mu.Unlock()

	go func() {
		if err := p.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logging.ErrorWithContext(d.logger, "receiver loop failed", "receiver_loop_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the daemon log for the failing backend"),
				logging.String(logging.FieldImpact, "the receiver is stopped until the daemon restarts"),
			)
		}
	}()
	if err := d.monitor.Start(runCtx); err != nil {
		d.logger.Warn("hotplug monitor unavailable", logging.Error(err))
	}

	d.running.Store(true)
	d.logger.Info("dvbrx daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldSourceKind, string(initial.Kind())),
	)
	return nil
}

// Stop shuts the receiver down and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.monitor.Stop()
	d.mu.Lock()
	p, cancel := d.player, d.cancel
	d.player = nil
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if p != nil {
		<-p.Done()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("dvbrx daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases the journal.
func (d *Daemon) Close() error {
	d.Stop()
	return d.journal.Close()
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		Hotplug:      d.monitor.Running(),
		Dependencies: deps.Check(d.cfg),
	}
	if d.journal != nil {
		status.RunID = d.journal.RunID()
		if counts, err := d.journal.Counts(ctx); err == nil {
			status.EventCounts = counts
		}
	}
	if p := d.currentPlayer(); p != nil {
		if report, err := p.Status(ctx); err == nil {
			status.Receiver = &report
		}
	}
	return status
}

// Bands returns the band library and the presets.
func (d *Daemon) Bands() ([]config.NamedBand, []config.Preset, error) {
	library, err := d.cfg.Library()
	if err != nil {
		return nil, nil, err
	}
	return library, append([]config.Preset(nil), d.cfg.Presets...), nil
}

// Tune retunes the receiver. A band on a different source kind switches the
// backend.
func (d *Daemon) Tune(ctx context.Context, req TuneRequest) (player.Report, error) {
	p := d.currentPlayer()
	if p == nil {
		return player.Report{}, ErrNotRunning
	}
	band, values, err := d.resolve(req)
	if err != nil {
		return player.Report{}, err
	}
	if _, err := d.registry.Lookup(band.Kind); err != nil {
		return player.Report{}, err
	}
	d.logger.Info("tune requested",
		logging.String(logging.FieldEventType, "tune_requested"),
		logging.String(logging.FieldSourceKind, string(band.Kind)),
		logging.String("band", describeRequest(req)),
		logging.Int("value_count", len(values)),
	)
	return p.Tune(ctx, band, values)
}

// Restart restarts the active backend and resets the watchdog.
func (d *Daemon) Restart(ctx context.Context) (player.Report, error) {
	p := d.currentPlayer()
	if p == nil {
		return player.Report{}, ErrNotRunning
	}
	d.logger.Info("restart requested",
		logging.String(logging.FieldEventType, "restart_requested"))
	return p.Restart(ctx)
}

// Events reads the run journal.
func (d *Daemon) Events(ctx context.Context, q journal.Query) ([]journal.Event, error) {
	if d.journal == nil {
		return nil, errors.New("event journal unavailable")
	}
	return d.journal.Since(ctx, q)
}

func (d *Daemon) currentPlayer() *player.Player {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.player
}

func (d *Daemon) hardwareChanged(action, dev string) {
	if p := d.currentPlayer(); p != nil {
		p.HardwareChanged(action, dev)
	}
}

func (d *Daemon) resolve(req TuneRequest) (source.Band, map[string]source.ParamValue, error) {
	var (
		band source.Band
		raw  = make(map[string]any)
		err  error
	)
	switch {
	case req.Inline != nil:
		band, err = req.Inline.Band()
	case strings.TrimSpace(req.Preset) != "":
		preset, ok := d.cfg.LookupPreset(req.Preset)
		if !ok {
			return source.Band{}, nil, fmt.Errorf("unknown preset %q", req.Preset)
		}
		maps.Copy(raw, preset.Values)
		band, err = d.cfg.LookupBand(preset.Band)
	case strings.TrimSpace(req.Band) != "":
		band, err = d.cfg.LookupBand(req.Band)
	default:
		return source.Band{}, nil, errors.New("tune requires a band, a preset or an inline band")
	}
	if err != nil {
		return source.Band{}, nil, err
	}
	maps.Copy(raw, req.Values)
	values, err := config.ParamValues(raw)
	if err != nil {
		return source.Band{}, nil, err
	}
	return band, values, nil
}

func describeRequest(req TuneRequest) string {
	switch {
	case req.Inline != nil:
		if req.Inline.Name != "" {
			return req.Inline.Name
		}
		return "inline"
	case req.Preset != "":
		return "preset:" + req.Preset
	default:
		return req.Band
	}
}

func watchdogConfig(w config.Watchdog) watchdog.Config {
	return watchdog.Config{
		Min:  seconds(w.MinRestart),
		Max:  seconds(w.MaxRestart),
		Rate: w.BackoffRate,
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
