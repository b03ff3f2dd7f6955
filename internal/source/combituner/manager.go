package combituner

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"dvbrx/internal/hardware"
	"dvbrx/internal/logging"
	"dvbrx/internal/source"
	"dvbrx/internal/source/process"
)

const restartSettle = 200 * time.Millisecond

// Manager supervises one CombiTuner process.
type Manager struct {
	opts   Options
	cfg    *source.Config
	logger *slog.Logger
	finder hardware.Finder

	sup     *process.Supervisor
	mediaFD int
	status  *source.Status
	parser  *outputParser
	sleep   func(time.Duration)
}

func newManager(opts Options, cfg *source.Config, finder hardware.Finder, launcher process.Launcher, logger *slog.Logger) (*Manager, error) {
	logger = logging.NewSourceLogger(logger, "combituner", string(source.KindCombiTuner))
	sup, err := process.NewSupervisor(launcher, opts.Grace, logger)
	if err != nil {
		return nil, err
	}
	mediaFD, err := process.HoldFIFO(opts.MediaPath)
	if err != nil {
		sup.Close()
		return nil, err
	}
	status := source.NewStatus(source.KindCombiTuner)
	return &Manager{
		opts:    opts,
		cfg:     cfg,
		logger:  logger,
		finder:  finder,
		sup:     sup,
		mediaFD: mediaFD,
		status:  status,
		parser:  newOutputParser(cfg.Band(), status, logger),
		sleep:   time.Sleep,
	}, nil
}

// Kind implements source.Manager.
func (m *Manager) Kind() source.Kind { return source.KindCombiTuner }

// Status implements source.Manager.
func (m *Manager) Status() *source.Status { return m.status }

// Media implements source.Manager.
func (m *Manager) Media() source.Media {
	return source.Media{Path: m.opts.MediaPath, Container: "mpegts", FD: m.mediaFD}
}

// FDs implements source.Manager.
func (m *Manager) FDs() []int { return []int{m.sup.OutputFD()} }

// HandleFD implements source.Manager.
func (m *Manager) HandleFD(fd int) {
	if fd != m.sup.OutputFD() {
		return
	}
	for _, line := range m.sup.ReadOutput() {
		if m.parser.feed(line) == lineFatal {
			logging.WarnWithContext(m.logger, "receiver reported a fatal error", "backend_fatal",
				logging.String("line", line),
				logging.String(logging.FieldErrorHint, "check the tuner is powered"),
				logging.String(logging.FieldImpact, "receiver stopped; watchdog will restart it"),
			)
			m.Stop(true, true)
			return
		}
	}
}

// CoreState implements source.Manager.
func (m *Manager) CoreState() source.CoreState {
	started := m.sup.Alive()
	running := started && m.parser.running
	return source.CoreState{
		Started: started,
		Running: running,
		Locked:  running && m.parser.last.locked,
		Counter: m.parser.counter,
	}
}

// Start implements source.Manager.
func (m *Manager) Start() {
	if !m.cfg.Valid() {
		logging.WarnWithContext(m.logger, "cannot start, config invalid", "config_invalid",
			logging.String(logging.FieldErrorHint, "check frequency and bandwidth are within the band's range"),
			logging.String(logging.FieldImpact, "receiver stays stopped"),
		)
		return
	}
	if m.sup.HasChild() {
		if m.sup.Alive() {
			m.logger.Debug("receiver already running")
			return
		}
		m.Stop(true, false)
	}

	if _, err := m.finder.Find(hardware.CombiTunerProducts...); err != nil {
		logging.WarnWithContext(m.logger, "no CombiTuner USB module found", "hardware_absent",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "connect the tuner or check its EEPROM product string"),
			logging.String(logging.FieldImpact, "receiver stays stopped; watchdog will retry"),
		)
		return
	}

	m.parser.newRun()
	if err := m.sup.Launch(buildArgs(m.opts, m.cfg)); err != nil {
		logging.ErrorWithContext(m.logger, "launch receiver failed", "backend_launch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check combituner.binary points at an executable"),
		)
	}
}

// Stop implements source.Manager.
func (m *Manager) Stop(dump, waitFirst bool) {
	m.sup.Stop(dump, waitFirst)
}

// Restart implements source.Manager. The receiver always gets a short
// settle period before it is stopped.
func (m *Manager) Restart() {
	if m.sup.HasChild() {
		m.sleep(restartSettle)
		m.Stop(false, false)
	}
	m.Start()
}

// Reconfig implements source.Manager.
func (m *Manager) Reconfig(cfg *source.Config) {
	if cfg == nil || cfg.Kind() != source.KindCombiTuner || cfg.Equal(m.cfg) {
		return
	}
	m.cfg.Release()
	m.cfg = cfg.Clone()
	m.parser.band = m.cfg.Band()
	m.Restart()
}

// Close implements source.Manager.
func (m *Manager) Close() error {
	err := m.sup.Close()
	if m.mediaFD >= 0 {
		err = errors.Join(err, unix.Close(m.mediaFD))
		m.mediaFD = -1
	}
	m.cfg.Release()
	return err
}

func buildArgs(opts Options, cfg *source.Config) []string {
	freq, _ := cfg.Int(source.ParamFreq)
	bw, _ := cfg.Int(source.ParamBandwidth)
	return []string{
		opts.Binary,
		"-m", "dvbt",
		"-f", strconv.Itoa(cfg.Band().ReqToTune(freq)),
		"-b", strconv.Itoa(bw),
		"-n", opts.MediaPath,
	}
}
