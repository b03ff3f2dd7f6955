package runner

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"dvbrx/internal/logging"
	"dvbrx/internal/source"
	"dvbrx/internal/wakeq"
)

// livenessTick bounds each wait. A child exiting while its terminal is
// still held open produces no readable descriptor.
const livenessTick = 500 * time.Millisecond

type commandKind int

const (
	cmdReconfig commandKind = iota
	cmdStart
	cmdRestart
	cmdShutdown
)

func (k commandKind) String() string {
	switch k {
	case cmdReconfig:
		return "reconfig"
	case cmdStart:
		return "start"
	case cmdRestart:
		return "restart"
	default:
		return "shutdown"
	}
}

type command struct {
	kind commandKind
	cfg  *source.Config
}

type eventKind int

const (
	eventStatus eventKind = iota
	eventState
)

type event struct {
	kind     eventKind
	snapshot source.Snapshot
	state    source.CoreState
}

// worker owns a manager for its whole life.
type worker struct {
	mgr      source.Manager
	commands *wakeq.Queue[command]
	events   *wakeq.Queue[event]
	logger   *slog.Logger
	done     chan struct{}
}

func newWorker(mgr source.Manager, logger *slog.Logger) (*worker, error) {
	commands, err := wakeq.New[command]()
	if err != nil {
		return nil, err
	}
	events, err := wakeq.New[event]()
	if err != nil {
		commands.Close()
		return nil, err
	}
	return &worker{mgr: mgr, commands: commands, events: events, logger: logger, done: make(chan struct{})}, nil
}

func (w *worker) post(ev event) {
	if err := w.events.Send(ev); err != nil {
		w.logger.Debug("drop worker event", logging.Error(err))
	}
}

func (w *worker) run() {
	defer close(w.done)
	w.mgr.Status().OnChange(func(s source.Snapshot) {
		w.post(event{kind: eventStatus, snapshot: s})
	})
	last := w.mgr.CoreState()
	w.post(event{kind: eventState, state: last})
	w.post(event{kind: eventStatus, snapshot: w.mgr.Status().Snapshot()})

	for {
		fds := append([]int{w.commands.FD()}, w.mgr.FDs()...)
		pfds := make([]unix.PollFd, len(fds))
		for i, fd := range fds {
			pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
		}
		if _, err := unix.Poll(pfds, int(livenessTick/time.Millisecond)); err != nil && !errors.Is(err, unix.EINTR) {
			logging.ErrorWithContext(w.logger, "worker poll failed", "worker_poll_failed", logging.Error(err))
			time.Sleep(livenessTick)
		}
		for _, pfd := range pfds {
			if pfd.Revents == 0 {
				continue
			}
			if int(pfd.Fd) == w.commands.FD() {
				if w.handleCommands() {
					if err := w.mgr.Close(); err != nil {
						w.logger.Warn("close manager", logging.Error(err))
					}
					return
				}
				continue
			}
			w.mgr.HandleFD(int(pfd.Fd))
		}
		if state := w.mgr.CoreState(); state != last {
			last = state
			w.post(event{kind: eventState, state: state})
		}
	}
}

// handleCommands drains pending commands in order and reports shutdown.
func (w *worker) handleCommands() bool {
	for {
		cmd, err := w.commands.Recv()
		if err != nil {
			if !errors.Is(err, wakeq.ErrEmpty) {
				w.logger.Debug("command queue read failed", logging.Error(err))
			}
			return false
		}
		w.logger.Debug("worker command", logging.String("command", cmd.kind.String()))
		switch cmd.kind {
		case cmdReconfig:
			w.mgr.Reconfig(cmd.cfg)
			cmd.cfg.Release()
		case cmdStart:
			w.mgr.Start()
		case cmdRestart:
			w.mgr.Restart()
		case cmdShutdown:
			return true
		}
	}
}

func (w *worker) close() {
	w.commands.Close()
	w.events.Close()
}
