package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"dvbrx/internal/journal"
	"dvbrx/internal/logging"
	"dvbrx/internal/runner"
	"dvbrx/internal/source"
	"dvbrx/internal/sources"
	"dvbrx/internal/wakeq"
	"dvbrx/internal/watchdog"
)

// Options configures a Player.
type Options struct {
	Registry *source.Registry
	// Initial is the start-up tune. The player takes ownership.
	Initial    *source.Config
	Watchdog   watchdog.Config
	Autoplay   bool
	Playback   Playback
	Indicators []Indicator
	Sinks      []StateSink
	Journal    *journal.Journal
	Logger     *slog.Logger
}

// Player is the caller-side loop. Run must be called once; the request
// methods may be called from any goroutine.
type Player struct {
	reg        *source.Registry
	runner     *runner.Runner
	wd         *watchdog.Watchdog
	wdCfg      watchdog.Config
	requests   *wakeq.Queue[request]
	done       chan struct{}
	playback   Playback
	indicators []Indicator
	sinks      []StateSink
	journal    *journal.Journal
	logger     *slog.Logger
	autoplay   bool

	current      *source.Config
	lastState    source.CoreState
	counter      uint64
	counterKnown bool
	rxGood       bool
	rxKnown      bool
	statusDirty  bool
	statusSub    source.Subscription
}

// New builds the runner and watchdog for opts.Initial. Nothing starts until Run.
func New(opts Options) (*Player, error) {
	if opts.Registry == nil || opts.Initial == nil {
		return nil, errors.New("player requires a registry and an initial config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	playback := opts.Playback
	if playback == nil {
		playback = nopPlayback{}
	}
	p := &Player{
		reg:        opts.Registry,
		wdCfg:      opts.Watchdog,
		done:       make(chan struct{}),
		playback:   playback,
		indicators: opts.Indicators,
		sinks:      opts.Sinks,
		journal:    opts.Journal,
		logger:     logging.NewComponentLogger(logger, "player"),
		autoplay:   opts.Autoplay,
		current:    opts.Initial,
	}

	requests, err := wakeq.New[request]()
	if err != nil {
		return nil, fmt.Errorf("request queue: %w", err)
	}
	p.requests = requests

	wd, err := watchdog.New(opts.Watchdog, p.autostart, logger)
	if err != nil {
		requests.Close()
		return nil, fmt.Errorf("watchdog: %w", err)
	}
	p.wd = wd

	r, err := runner.New(opts.Registry, opts.Initial, logger)
	if err != nil {
		wd.Close()
		requests.Close()
		return nil, err
	}
	p.runner = r
	p.statusSub = r.Status().OnChange(func(source.Snapshot) { p.statusDirty = true })
	return p, nil
}

// Done is closed once Run has returned.
func (p *Player) Done() <-chan struct{} { return p.done }

// Run starts the source and serves until ctx is cancelled.
func (p *Player) Run(ctx context.Context) error {
	defer p.teardown()

	go func() {
		select {
		case <-ctx.Done():
			_ = p.requests.Send(request{kind: reqQuit})
		case <-p.done:
		}
	}()

	p.selectBand(p.current.Band())
	p.record(journal.Event{Kind: journal.KindTune, Message: "initial tune " + describe(p.current)})
	if err := p.runner.Start(); err != nil {
		return err
	}
	p.logger.Info("player started",
		logging.String(logging.FieldEventType, "player_started"),
		logging.String(logging.FieldSourceKind, string(p.runner.Kind())),
		logging.Bool("autoplay", p.autoplay),
	)

	for {
		fds := append(p.runner.FDs(), p.wd.FD(), p.requests.FD())
		pfds := make([]unix.PollFd, len(fds))
		for i, fd := range fds {
			pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
		}
		if _, err := unix.Poll(pfds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}
		for _, pfd := range pfds {
			if pfd.Revents == 0 {
				continue
			}
			fd := int(pfd.Fd)
			switch fd {
			case p.requests.FD():
				if quit := p.handleRequests(); quit {
					return nil
				}
			case p.wd.FD():
				p.wd.HandleFD(fd)
			default:
				p.runner.HandleFD(fd)
			}
			p.update()
			if fd == p.requests.FD() {
				// a source switch may have closed the remaining descriptors
				break
			}
		}
	}
}

func (p *Player) teardown() {
	if err := p.playback.Stop(); err != nil {
		p.logger.Warn("stop playback", logging.Error(err))
	}
	for _, ind := range p.indicators {
		ind.SetRXGood(false)
	}
	p.runner.Status().Unsubscribe(p.statusSub)
	p.runner.Shutdown()
	p.wd.Close()
	p.requests.Close()
	p.current.Release()
	close(p.done)
	p.logger.Info("player stopped", logging.String(logging.FieldEventType, "player_stopped"))
}

// autostart is the watchdog action.
func (p *Player) autostart() {
	p.record(journal.Event{Kind: journal.KindRestart, Message: "watchdog restart", State: p.runner.CoreState()})
	if err := p.runner.Start(); err != nil {
		p.logger.Warn("watchdog restart", logging.Error(err))
	}
}

// update folds the runner's core state into the watchdog, playback and
// indicators. It runs after every handled descriptor.
func (p *Player) update() {
	state := p.runner.CoreState()
	if !state.Started {
		p.wd.Fault()
	} else if state.Running {
		p.wd.Service()
	}

	good := state.Running && state.Locked
	if good {
		if !p.counterKnown || state.Counter != p.counter {
			if p.counterKnown {
				p.stopPlayback("signal changed")
			}
			p.counter = state.Counter
			p.counterKnown = true
		}
		if p.autoplay && !p.playback.Playing() {
			p.startPlayback()
		}
	} else if p.autoplay && p.playback.Playing() {
		p.stopPlayback("signal lost")
	}

	if !p.rxKnown || good != p.rxGood {
		p.rxGood = good
		p.rxKnown = true
		for _, ind := range p.indicators {
			ind.SetRXGood(good)
		}
	}

	changed := state != p.lastState
	if changed {
		p.logger.Debug("core state changed",
			logging.String(logging.FieldEventType, "core_state"),
			logging.String(logging.FieldSourceKind, string(p.runner.Kind())),
			logging.String("state", state.String()),
		)
		kind := journal.KindState
		if p.lastState.Started && !state.Started {
			kind = journal.KindFault
		}
		p.record(journal.Event{Kind: kind, Message: stateMessage(state), State: state})
		p.lastState = state
	}
	if changed || p.statusDirty {
		p.statusDirty = false
		snap := p.runner.Status().Snapshot()
		for _, sink := range p.sinks {
			sink.PublishState(p.runner.Kind(), state, snap)
		}
	}
}

func (p *Player) startPlayback() {
	media := p.runner.Media()
	if err := p.playback.Play(media); err != nil {
		logging.WarnWithContext(p.logger, "playback failed to start", "playback_failed",
			logging.Error(err),
			logging.String("media", media.Path),
			logging.String(logging.FieldErrorHint, "check playback.command"),
			logging.String(logging.FieldImpact, "video is not shown"),
		)
		return
	}
	p.record(journal.Event{Kind: journal.KindPlay, Message: "playback started", State: p.runner.CoreState()})
}

func (p *Player) stopPlayback(reason string) {
	if !p.playback.Playing() {
		return
	}
	if err := p.playback.Stop(); err != nil {
		p.logger.Warn("stop playback", logging.Error(err))
	}
	p.record(journal.Event{Kind: journal.KindPlay, Message: "playback stopped: " + reason, State: p.runner.CoreState()})
}

func (p *Player) handleRequests() bool {
	for {
		req, err := p.requests.Recv()
		if err != nil {
			return false
		}
		switch req.kind {
		case reqQuit:
			return true
		case reqTune:
			err := p.tune(req.band, req.values)
			p.reply(req, err)
		case reqRestart:
			p.record(journal.Event{Kind: journal.KindRestart, Message: "restart requested", State: p.runner.CoreState()})
			p.wd.Reset(p.wdCfg)
			p.reply(req, p.runner.Restart())
		case reqStatus:
			p.reply(req, nil)
		case reqHotplug:
			p.hotplug(req.action)
		}
	}
}

func (p *Player) reply(req request, err error) {
	if req.reply == nil {
		return
	}
	resp := response{err: err}
	if err == nil {
		resp.report = p.report()
	}
	req.reply <- resp
}

func (p *Player) tune(band source.Band, values map[string]source.ParamValue) error {
	cfg, err := sources.Tune(p.reg, p.current, band, values)
	if err != nil {
		return err
	}
	switched := cfg.Kind() != p.runner.Kind()
	if switched {
		p.stopPlayback("source switched")
		p.counterKnown = false
	}
	if err := p.runner.Reconfig(cfg); err != nil {
		cfg.Release()
		return err
	}
	p.current.Release()
	p.current = cfg
	p.wd.Reset(p.wdCfg)
	p.selectBand(band)

	p.logger.Info("tuned",
		logging.String(logging.FieldEventType, "tune"),
		logging.String(logging.FieldSourceKind, string(band.Kind)),
		logging.String("tune", describe(cfg)),
		logging.Bool("valid", cfg.Valid()),
	)
	p.record(journal.Event{Kind: journal.KindTune, Message: describe(cfg), State: p.runner.CoreState()})
	return nil
}

func (p *Player) hotplug(action string) {
	p.logger.Info("tuner hotplug",
		logging.String(logging.FieldEventType, "hotplug"),
		logging.String("action", action),
	)
	if action != "add" || p.runner.CoreState().Started || !p.wd.Pending() {
		return
	}
	// a tuner arrived while waiting out a backoff delay
	p.wd.Cancel()
	p.autostart()
}

func (p *Player) selectBand(band source.Band) {
	for _, ind := range p.indicators {
		ind.SelectBand(band)
	}
}

func (p *Player) report() Report {
	return Report{
		Kind:     p.runner.Kind(),
		Band:     p.current.Band(),
		Values:   p.current.Values(),
		Valid:    p.current.Valid(),
		State:    p.runner.CoreState(),
		Status:   p.runner.Status().Snapshot(),
		Media:    p.runner.Media(),
		Playing:  p.playback.Playing(),
		Autoplay: p.autoplay,
		Watchdog: WatchdogReport{Pending: p.wd.Pending(), Delay: p.wd.Delay()},
	}
}

func (p *Player) record(evt journal.Event) {
	if p.journal == nil {
		return
	}
	if evt.SourceKind == "" {
		evt.SourceKind = p.runner.Kind()
	}
	if _, err := p.journal.Record(context.Background(), evt); err != nil {
		p.logger.Debug("journal record failed", logging.Error(err))
	}
}

func stateMessage(s source.CoreState) string {
	switch {
	case !s.Started:
		return "not started"
	case !s.Running:
		return "starting"
	case !s.Locked:
		return "running, no lock"
	default:
		return "locked"
	}
}

func describe(cfg *source.Config) string {
	out := string(cfg.Kind())
	for _, name := range cfg.Names() {
		if param, ok := cfg.Param(name); ok {
			out += " " + name + "=" + param.String()
		}
	}
	return out
}
