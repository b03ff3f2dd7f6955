package runner

import (
	"errors"
	"fmt"
	"log/slog"

	"dvbrx/internal/logging"
	"dvbrx/internal/source"
)

// ErrClosed is returned after Shutdown.
var ErrClosed = errors.New("runner shut down")

// ErrNoManager is returned when no manager is running, for example after a
// worker failed to come up. A Reconfig builds a new one.
var ErrNoManager = errors.New("no source manager")

// Runner is the caller-side facade. It must only be used from one goroutine.
type Runner struct {
	reg    *source.Registry
	logger *slog.Logger

	w      *worker
	closed bool
	kind   source.Kind
	media  source.Media
	status *source.Status
	state  source.CoreState
}

// New builds a manager for a copy of cfg and starts its worker. The manager
// is not started; call Start.
func New(reg *source.Registry, cfg *source.Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{reg: reg, logger: logger, status: source.NewStatus(cfg.Kind())}
	if err := r.spawn(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) spawn(cfg *source.Config) error {
	mgr, err := r.build(cfg)
	if err != nil {
		return err
	}
	return r.attach(cfg.Kind(), mgr)
}

func (r *Runner) build(cfg *source.Config) (source.Manager, error) {
	mgr, err := r.reg.NewManager(cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("build %s manager: %w", cfg.Kind(), err)
	}
	return mgr, nil
}

// attach runs mgr on a fresh worker. mgr is closed if the worker cannot
// be created.
func (r *Runner) attach(kind source.Kind, mgr source.Manager) error {
	w, err := newWorker(mgr, logging.NewSourceLogger(r.logger, "runner", string(kind)))
	if err != nil {
		mgr.Close()
		return err
	}
	r.w = w
	r.kind = kind
	r.media = mgr.Media()
	r.state = source.CoreState{}
	go w.run()
	return nil
}

// Kind reports the active source kind.
func (r *Runner) Kind() source.Kind { return r.kind }

// Media returns the active manager's media handle.
func (r *Runner) Media() source.Media { return r.media }

// Status is the caller's copy of the telemetry. It and its observers
// persist across source kind changes.
func (r *Runner) Status() *source.Status { return r.status }

// CoreState returns the latest state posted by the worker.
func (r *Runner) CoreState() source.CoreState { return r.state }

// FDs lists descriptors the caller should wait on.
func (r *Runner) FDs() []int {
	if r.w == nil {
		return nil
	}
	return []int{r.w.events.FD()}
}

// HandleFD folds pending worker events into the caller's state.
func (r *Runner) HandleFD(fd int) {
	if r.w == nil || fd != r.w.events.FD() {
		return
	}
	for {
		ev, err := r.w.events.Recv()
		if err != nil {
			return
		}
		switch ev.kind {
		case eventStatus:
			r.status.SyncTo(ev.snapshot)
		case eventState:
			r.state = ev.state
		}
	}
}

func (r *Runner) send(cmd command) error {
	if r.closed {
		return ErrClosed
	}
	if r.w == nil {
		return ErrNoManager
	}
	return r.w.commands.Send(cmd)
}

// Start asks the worker to start the manager.
func (r *Runner) Start() error { return r.send(command{kind: cmdStart}) }

// Restart asks the worker to restart the manager.
func (r *Runner) Restart() error { return r.send(command{kind: cmdRestart}) }

// Reconfig hands a copy of cfg to the worker. A different source kind
// starts a fresh manager for the new kind; the old one is only torn down
// once the new one is built, so a failed build leaves it running.
func (r *Runner) Reconfig(cfg *source.Config) error {
	if r.closed {
		return ErrClosed
	}
	if r.w == nil {
		r.status.Reset(cfg.Kind())
		if err := r.spawn(cfg); err != nil {
			return err
		}
		return r.Start()
	}
	if cfg.Kind() == r.kind {
		clone := cfg.Clone()
		if err := r.send(command{kind: cmdReconfig, cfg: clone}); err != nil {
			clone.Release()
			return err
		}
		return nil
	}

	r.logger.Info("switching source",
		logging.String(logging.FieldEventType, "source_switch"),
		logging.String("from", string(r.kind)),
		logging.String("to", string(cfg.Kind())),
	)
	mgr, err := r.build(cfg)
	if err != nil {
		return err
	}
	r.stopWorker()
	r.status.Reset(cfg.Kind())
	if err := r.attach(cfg.Kind(), mgr); err != nil {
		return err
	}
	return r.Start()
}

// Shutdown stops the worker, waits for it and releases every descriptor.
func (r *Runner) Shutdown() {
	r.stopWorker()
	r.closed = true
}

func (r *Runner) stopWorker() {
	if r.w == nil {
		return
	}
	if err := r.w.commands.Send(command{kind: cmdShutdown}); err != nil {
		r.logger.Warn("post shutdown", logging.Error(err))
	}
	<-r.w.done
	r.w.close()
	r.w = nil
	r.state = source.CoreState{}
}
