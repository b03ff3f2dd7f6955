package watchdog

import (
	"errors"
	"log/slog"
	"time"

	"dvbrx/internal/logging"
	"dvbrx/internal/wakeq"
)

// Defaults match the daemon's configuration defaults.
const (
	DefaultMin  = 100 * time.Millisecond
	DefaultMax  = 300 * time.Second
	DefaultRate = 2.0
)

// Config bounds the restart delay.
type Config struct {
	Min  time.Duration
	Max  time.Duration
	Rate float64
}

func (c Config) withDefaults() Config {
	if c.Min <= 0 {
		c.Min = DefaultMin
	}
	if c.Max < c.Min {
		c.Max = max(DefaultMax, c.Min)
	}
	if c.Rate < 1 {
		c.Rate = DefaultRate
	}
	return c
}

// Watchdog restarts a source after faults. It must be used from one
// goroutine; only the timer callback runs elsewhere.
type Watchdog struct {
	cfg    Config
	action func()
	logger *slog.Logger

	lastAutostart time.Time
	lastLoaded    time.Time
	delay         time.Duration
	pending       bool
	stopTimer     func() bool
	gen           uint64
	fired         *wakeq.Queue[uint64]

	now       func() time.Time
	afterFunc func(time.Duration, func()) func() bool
}

// New creates a watchdog that calls action when a restart is due.
func New(cfg Config, action func(), logger *slog.Logger) (*Watchdog, error) {
	fired, err := wakeq.New[uint64]()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watchdog{
		cfg:    cfg.withDefaults(),
		action: action,
		logger: logging.NewComponentLogger(logger, "watchdog"),
		fired:  fired,
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}, nil
}

// FD is readable when a restart is due.
func (w *Watchdog) FD() int { return w.fired.FD() }

// Delay returns the most recently scheduled delay.
func (w *Watchdog) Delay() time.Duration { return w.delay }

// Pending reports whether a restart is scheduled.
func (w *Watchdog) Pending() bool { return w.pending }

// Fault schedules a restart unless one is already pending. The delay grows
// by the backoff rate on repeated faults and drops back to the minimum once
// the source has stayed healthy for longer than the current delay.
func (w *Watchdog) Fault() {
	if w.pending {
		return
	}
	now := w.now()
	healthy := !w.lastLoaded.IsZero() && w.lastLoaded.After(w.lastAutostart) && now.Sub(w.lastLoaded) > w.delay
	if w.lastAutostart.IsZero() || w.delay == 0 || healthy {
		w.delay = w.cfg.Min
	} else {
		w.delay = min(time.Duration(float64(w.delay)*w.cfg.Rate), w.cfg.Max)
	}
	w.gen++
	gen := w.gen
	w.pending = true
	w.stopTimer = w.afterFunc(w.delay, func() {
		if err := w.fired.Send(gen); err != nil && !errors.Is(err, wakeq.ErrClosed) {
			w.logger.Warn("post watchdog expiry", logging.Error(err))
		}
	})
	w.logger.Info("watchdog armed",
		logging.String(logging.FieldEventType, "watchdog_armed"),
		logging.Duration("delay", w.delay),
	)
}

// Service records a healthy source and cancels any pending restart.
func (w *Watchdog) Service() {
	w.Cancel()
	if !w.lastAutostart.IsZero() && (w.lastLoaded.IsZero() || w.lastLoaded.Before(w.lastAutostart)) {
		w.lastLoaded = w.now()
	}
}

// Cancel drops a pending restart.
func (w *Watchdog) Cancel() {
	if !w.pending {
		return
	}
	w.pending = false
	if w.stopTimer != nil {
		w.stopTimer()
		w.stopTimer = nil
	}
}

// Reset cancels and forgets all history, adopting cfg.
func (w *Watchdog) Reset(cfg Config) {
	w.Cancel()
	w.cfg = cfg.withDefaults()
	w.lastAutostart = time.Time{}
	w.lastLoaded = time.Time{}
	w.delay = 0
}

// HandleFD runs the restart action for a due timer. Expiries of cancelled
// timers are discarded.
func (w *Watchdog) HandleFD(fd int) {
	if fd != w.fired.FD() {
		return
	}
	for {
		gen, err := w.fired.Recv()
		if err != nil {
			return
		}
		if !w.pending || gen != w.gen {
			continue
		}
		w.pending = false
		w.stopTimer = nil
		w.lastAutostart = w.now()
		w.logger.Info("watchdog fired",
			logging.String(logging.FieldEventType, "watchdog_fired"),
			logging.Duration("delay", w.delay),
		)
		if w.action != nil {
			w.action()
		}
	}
}

// Close cancels any pending restart and releases the descriptor.
func (w *Watchdog) Close() error {
	w.Cancel()
	return w.fired.Close()
}
