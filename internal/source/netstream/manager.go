package netstream

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"

	"dvbrx/internal/logging"
	"dvbrx/internal/source"
	"dvbrx/internal/source/process"
	"dvbrx/internal/wakeq"
)

const (
	restartSpacing     = 500 * time.Millisecond
	defaultTimeout     = 5 * time.Second
	defaultInitTimeout = 25 * time.Second
	maxFrameLog        = 500
)

// Manager follows one network stream. No process is involved; a reader
// goroutine feeds events back through a wake queue.
type Manager struct {
	opts   Options
	cfg    *source.Config
	logger *slog.Logger

	events  *wakeq.Queue[readerEvent]
	mediaFD int
	status  *source.Status

	link    *link
	reader  *reader
	running bool
	locked  bool
	ref     bool
	counter uint64
	frames  []string

	lastStart time.Time
	now       func() time.Time
	sleep     func(time.Duration)
}

func newManager(opts Options, cfg *source.Config, logger *slog.Logger) (*Manager, error) {
	logger = logging.NewSourceLogger(logger, "netstream", string(source.KindNetStream))
	if err := process.EnsureFIFO(opts.MediaPath); err != nil {
		return nil, err
	}
	mediaFD, err := process.OpenFIFO(opts.MediaPath)
	if err != nil {
		return nil, err
	}
	events, err := wakeq.New[readerEvent]()
	if err != nil {
		unix.Close(mediaFD)
		return nil, err
	}
	return &Manager{
		opts:    opts,
		cfg:     cfg,
		logger:  logger,
		events:  events,
		mediaFD: mediaFD,
		status:  source.NewStatus(source.KindNetStream),
		now:     time.Now,
		sleep:   time.Sleep,
	}, nil
}

// Kind implements source.Manager.
func (m *Manager) Kind() source.Kind { return source.KindNetStream }

// Status implements source.Manager.
func (m *Manager) Status() *source.Status { return m.status }

// Media implements source.Manager.
func (m *Manager) Media() source.Media {
	return source.Media{Path: m.opts.MediaPath, Container: "flv", FD: m.mediaFD}
}

// FDs implements source.Manager.
func (m *Manager) FDs() []int { return []int{m.events.FD()} }

// HandleFD implements source.Manager.
func (m *Manager) HandleFD(fd int) {
	if fd != m.events.FD() {
		return
	}
	fatal := false
	for {
		ev, err := m.events.Recv()
		if err != nil {
			if !errors.Is(err, wakeq.ErrEmpty) {
				m.logger.Debug("event queue read failed", logging.Error(err))
			}
			break
		}
		switch ev.kind {
		case eventLocked:
			m.locked = true
		case eventUnlocked:
			m.logger.Info("stream stopped by server", logging.String(logging.FieldEventType, "stream_unlocked"))
			m.resetReader(false)
		case eventTimeout:
			logging.WarnWithContext(m.logger, "stream data timed out", "stream_timeout",
				logging.Error(ev.err),
				logging.String(logging.FieldErrorHint, "check the stream is still live"),
				logging.String(logging.FieldImpact, "reconnecting"),
			)
			m.resetReader(true)
		case eventData:
			m.record(ev.raw)
			m.handleFrame(ev.frame)
		case eventError:
			logging.WarnWithContext(m.logger, "stream failed", "stream_error",
				logging.Error(ev.err),
				logging.String(logging.FieldErrorHint, "check the band's domain and app and the stream name"),
				logging.String(logging.FieldImpact, "stream stopped; watchdog will restart it"),
			)
			fatal = true
		}
		m.updateCounter()
	}
	if fatal {
		m.Stop(true, true)
	}
}

func (m *Manager) handleFrame(f controlFrame) {
	switch f.Type {
	case frameMetadata:
		streams := f.streams()
		if len(streams) > 0 {
			m.status.Update(func(s *source.Snapshot) { s.Streams = streams })
		}
	case frameStatus:
		if f.Code == codePlayStart && !m.running {
			m.running = true
			m.logger.Info("stream playing", logging.String(logging.FieldEventType, "backend_running"))
		}
	}
}

func (m *Manager) record(raw string) {
	if raw == "" {
		return
	}
	if len(m.frames) >= maxFrameLog {
		m.frames = m.frames[1:]
	}
	m.frames = append(m.frames, m.now().Format(time.RFC3339)+" "+raw)
}

func (m *Manager) updateCounter() {
	if m.locked != m.ref {
		m.counter++
		m.ref = m.locked
	}
}

// CoreState implements source.Manager.
func (m *Manager) CoreState() source.CoreState {
	started := m.reader != nil && m.reader.alive()
	running := started && m.running
	return source.CoreState{
		Started: started,
		Running: running,
		Locked:  running && m.locked,
		Counter: m.counter,
	}
}

// Start implements source.Manager.
func (m *Manager) Start() {
	m.lastStart = m.now()
	if !m.cfg.Valid() {
		logging.WarnWithContext(m.logger, "cannot start, config invalid", "config_invalid",
			logging.String(logging.FieldErrorHint, "set a stream name"),
			logging.String(logging.FieldImpact, "stream stays stopped"),
		)
		return
	}
	if m.reader != nil {
		m.logger.Debug("stream connection already open")
		return
	}
	target, err := streamURL(m.cfg)
	if err != nil {
		logging.WarnWithContext(m.logger, "cannot start, bad stream address", "config_invalid",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the band's domain"),
		)
		return
	}

	m.locked = false
	m.frames = nil
	m.link = &link{}
	band := m.cfg.Band()
	m.startReader(target, timeoutOr(band.Timeout, defaultTimeout), timeoutOr(band.InitTimeout, defaultInitTimeout))
	m.updateCounter()
}

func (m *Manager) startReader(target string, timeout, initTimeout time.Duration) {
	dialer := m.opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	m.reader = &reader{
		link:        m.link,
		url:         target,
		dialer:      dialer,
		mediaFD:     m.mediaFD,
		events:      m.events,
		timeout:     timeout,
		initTimeout: initTimeout,
		logger:      m.logger,
	}
	m.reader.start()
}

// resetReader replaces a finished reader. A timeout also drops the
// connection so the next reader dials again.
func (m *Manager) resetReader(reconnect bool) {
	if m.reader == nil {
		return
	}
	target := m.reader.url
	m.locked = false
	if reconnect {
		m.link.drop()
	}
	m.reader.stop()
	process.DrainFD(m.mediaFD)
	m.status.Reset(source.KindNetStream)
	timeout := timeoutOr(m.cfg.Band().Timeout, defaultTimeout)
	m.startReader(target, timeout, timeout)
}

// Stop implements source.Manager. waitFirst has no meaning without a
// process and is ignored.
func (m *Manager) Stop(dump, _ bool) {
	m.status.Reset(source.KindNetStream)
	if m.reader != nil {
		m.link.close()
		m.reader.stop()
	}
	for {
		if _, err := m.events.Recv(); err != nil {
			break
		}
	}
	process.DrainFD(m.mediaFD)
	m.reader = nil
	m.link = nil
	m.locked = false
	m.running = false
	m.updateCounter()
	if dump {
		logging.BackendOutput(m.logger, m.frames)
	}
}

// Restart implements source.Manager. Restarts are spaced so a server that
// rejects the stream is not hammered.
func (m *Manager) Restart() {
	if m.reader != nil {
		if wait := restartSpacing - m.now().Sub(m.lastStart); wait > 0 {
			m.sleep(wait)
		}
		m.Stop(false, false)
	}
	m.Start()
}

// Reconfig implements source.Manager.
func (m *Manager) Reconfig(cfg *source.Config) {
	if cfg == nil || cfg.Kind() != source.KindNetStream || cfg.Equal(m.cfg) {
		return
	}
	m.cfg.Release()
	m.cfg = cfg.Clone()
	m.Restart()
}

// Close implements source.Manager.
func (m *Manager) Close() error {
	m.Stop(false, false)
	err := m.events.Close()
	if m.mediaFD >= 0 {
		err = errors.Join(err, unix.Close(m.mediaFD))
		m.mediaFD = -1
	}
	m.cfg.Release()
	return err
}

// streamURL builds ws://domain/app/stream. A domain that already carries a
// scheme is used as the base.
func streamURL(cfg *source.Config) (string, error) {
	band := cfg.Band()
	name := cfg.Str(source.ParamStream)
	if band.Domain == "" {
		return "", errors.New("band has no domain")
	}
	base := &url.URL{Scheme: "ws", Host: band.Domain}
	if strings.Contains(band.Domain, "://") {
		parsed, err := url.Parse(band.Domain)
		if err != nil {
			return "", fmt.Errorf("parse domain: %w", err)
		}
		base = parsed
	}
	base.Path = path.Join("/", base.Path, band.App, name)
	return base.String(), nil
}

func timeoutOr(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
