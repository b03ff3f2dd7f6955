package longmynd

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"dvbrx/internal/hardware"
	"dvbrx/internal/logging"
	"dvbrx/internal/source"
	"dvbrx/internal/source/process"
)

// restartSettle gives a child that never produced status time to finish
// initialising before it is stopped.
const restartSettle = 200 * time.Millisecond

// Manager supervises one longmynd process.
type Manager struct {
	opts   Options
	cfg    *source.Config
	logger *slog.Logger
	finder hardware.Finder

	sup          *process.Supervisor
	statusFD     int
	statusReader *process.LineReader
	mediaFD      int

	status  *source.Status
	startup startupTracker
	parser  *statusParser
	sleep   func(time.Duration)
}

func newManager(opts Options, cfg *source.Config, finder hardware.Finder, launcher process.Launcher, logger *slog.Logger) (*Manager, error) {
	logger = logging.NewSourceLogger(logger, "longmynd", string(source.KindLongmynd))
	sup, err := process.NewSupervisor(launcher, opts.Grace, logger)
	if err != nil {
		return nil, err
	}
	statusFD, err := process.OpenFIFO(opts.StatusPath)
	if err != nil {
		sup.Close()
		return nil, err
	}
	mediaFD, err := process.HoldFIFO(opts.MediaPath)
	if err != nil {
		sup.Close()
		unix.Close(statusFD)
		return nil, err
	}
	status := source.NewStatus(source.KindLongmynd)
	return &Manager{
		opts:         opts,
		cfg:          cfg,
		logger:       logger,
		finder:       finder,
		sup:          sup,
		statusFD:     statusFD,
		statusReader: process.NewLineReader(statusFD),
		mediaFD:      mediaFD,
		status:       status,
		parser:       newStatusParser(cfg.Band(), status, logger),
		sleep:        time.Sleep,
	}, nil
}

// Kind implements source.Manager.
func (m *Manager) Kind() source.Kind { return source.KindLongmynd }

// Status implements source.Manager.
func (m *Manager) Status() *source.Status { return m.status }

// Media implements source.Manager.
func (m *Manager) Media() source.Media {
	return source.Media{Path: m.opts.MediaPath, Container: "mpegts", FD: m.mediaFD}
}

// FDs implements source.Manager.
func (m *Manager) FDs() []int {
	return []int{m.statusFD, m.sup.OutputFD()}
}

// HandleFD implements source.Manager.
func (m *Manager) HandleFD(fd int) {
	switch fd {
	case m.statusFD:
		m.readStatus()
	case m.sup.OutputFD():
		m.readOutput()
	}
}

// CoreState implements source.Manager.
func (m *Manager) CoreState() source.CoreState {
	started := m.sup.Alive()
	running := started && m.startup.ready && m.parser.received
	return source.CoreState{
		Started: started,
		Running: running,
		Locked:  running && m.parser.locked(),
		Counter: m.parser.counter,
	}
}

func (m *Manager) readStatus() {
	lines, _, err := m.statusReader.ReadLines()
	if err != nil {
		m.logger.Debug("status read failed", logging.Error(err))
	}
	for _, line := range lines {
		m.parser.handleLine(line)
	}
}

func (m *Manager) readOutput() {
	for _, line := range m.sup.ReadOutput() {
		switch m.startup.feed(line) {
		case lineFatal:
			logging.WarnWithContext(m.logger, "receiver reported a fatal error", "backend_fatal",
				logging.String("line", line),
				logging.String(logging.FieldErrorHint, "check the tuner connection and supply"),
				logging.String(logging.FieldImpact, "receiver stopped; watchdog will restart it"),
			)
			m.Stop(true, true)
			return
		case lineAutoReset:
			m.logger.Info("receiver reset its tuner",
				logging.String(logging.FieldEventType, "backend_auto_reset"),
			)
		}
	}
}

// Start implements source.Manager.
func (m *Manager) Start() {
	if !m.cfg.Valid() {
		logging.WarnWithContext(m.logger, "cannot start, config invalid", "config_invalid",
			logging.String(logging.FieldErrorHint, "check frequency and symbol rate are within the band's range"),
			logging.String(logging.FieldImpact, "receiver stays stopped"),
		)
		return
	}
	if m.sup.HasChild() {
		if m.sup.Alive() {
			m.logger.Debug("receiver already running")
			return
		}
		logging.WarnWithContext(m.logger, "receiver exited unexpectedly", "backend_exited",
			logging.String(logging.FieldErrorHint, "see the dumped receiver output"),
			logging.String(logging.FieldImpact, "receiver restarting"),
		)
		m.Stop(true, false)
	}

	dev, err := m.finder.Find(hardware.LongmyndProducts...)
	if err != nil {
		logging.WarnWithContext(m.logger, "no MiniTiouner USB module found", "hardware_absent",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "connect the tuner or check its EEPROM product string"),
			logging.String(logging.FieldImpact, "receiver stays stopped; watchdog will retry"),
		)
		return
	}

	m.startup.reset()
	m.parser.newRun()
	argv := buildArgs(m.opts, m.cfg, dev)
	if err := m.sup.Launch(argv); err != nil {
		logging.ErrorWithContext(m.logger, "launch receiver failed", "backend_launch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check longmynd.binary points at an executable"),
		)
	}
}

// Stop implements source.Manager.
func (m *Manager) Stop(dump, waitFirst bool) {
	m.sup.Stop(dump, waitFirst)
	m.reopenStatus()
}

func (m *Manager) reopenStatus() {
	if m.statusFD >= 0 {
		process.DrainFD(m.statusFD)
		unix.Close(m.statusFD)
		m.statusFD = -1
	}
	fd, err := process.OpenFIFO(m.opts.StatusPath)
	if err != nil {
		logging.ErrorWithContext(m.logger, "reopen status fifo failed", "status_fifo_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check longmynd.status_path"),
		)
		return
	}
	m.statusFD = fd
	m.statusReader = process.NewLineReader(fd)
}

// Restart implements source.Manager.
func (m *Manager) Restart() {
	if m.sup.HasChild() {
		if !m.parser.received {
			m.sleep(restartSettle)
		}
		m.Stop(false, false)
	}
	m.Start()
}

// Reconfig implements source.Manager.
func (m *Manager) Reconfig(cfg *source.Config) {
	if cfg == nil || cfg.Kind() != source.KindLongmynd || cfg.Equal(m.cfg) {
		return
	}
	m.cfg.Release()
	m.cfg = cfg.Clone()
	m.parser.band = m.cfg.Band()
	m.logger.Info("receiver reconfigured",
		logging.String(logging.FieldEventType, "backend_reconfigured"),
		logging.Any("freq", m.cfg.Ints(source.ParamFreq)),
		logging.Any("sr", m.cfg.Ints(source.ParamSymbolRate)),
	)
	m.Restart()
}

// Close implements source.Manager.
func (m *Manager) Close() error {
	err := m.sup.Close()
	if m.statusFD >= 0 {
		err = errors.Join(err, unix.Close(m.statusFD))
		m.statusFD = -1
	}
	if m.mediaFD >= 0 {
		err = errors.Join(err, unix.Close(m.mediaFD))
		m.mediaFD = -1
	}
	m.cfg.Release()
	return err
}

// buildArgs assembles the receiver command line. Frequencies are converted
// to tuner frequencies; multiple values become comma separated scan lists.
func buildArgs(opts Options, cfg *source.Config, dev hardware.Device) []string {
	band := cfg.Band()
	args := []string{
		opts.Binary,
		"-t", opts.MediaPath,
		"-s", opts.StatusPath,
		"-r", strconv.Itoa(opts.TSTimeout),
		"-u", strconv.Itoa(dev.Bus), strconv.Itoa(dev.Address),
	}
	if band.Port == source.PortBottom {
		args = append(args, "-w")
	}
	switch band.Polarity {
	case source.PolarityHorizontal:
		args = append(args, "-p", "h")
	case source.PolarityVertical:
		args = append(args, "-p", "v")
	}

	freqs := cfg.Ints(source.ParamFreq)
	tuned := make([]string, len(freqs))
	for i, f := range freqs {
		tuned[i] = strconv.Itoa(band.ReqToTune(f))
	}
	srs := cfg.Ints(source.ParamSymbolRate)
	rates := make([]string, len(srs))
	for i, sr := range srs {
		rates[i] = strconv.Itoa(sr)
	}
	return append(args, strings.Join(tuned, ","), strings.Join(rates, ","))
}
