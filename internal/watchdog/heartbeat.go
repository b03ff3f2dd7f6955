package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"dvbrx/internal/logging"
)

// Heartbeat writes the process id to a file and touches it periodically.
// A stale modification time tells an external supervisor the daemon hung.
type Heartbeat struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewHeartbeat returns a heartbeat for path. An empty path disables it.
func NewHeartbeat(path string, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Heartbeat{path: path, interval: interval, logger: logger, now: time.Now}
}

// Path returns the heartbeat file location.
func (h *Heartbeat) Path() string { return h.path }

// Run writes the file and touches it until ctx ends, then removes it.
func (h *Heartbeat) Run(ctx context.Context) error {
	if h == nil || h.path == "" {
		return nil
	}
	if err := os.WriteFile(h.path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	defer os.Remove(h.path)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.touch(); err != nil {
				logging.WarnWithContext(h.logger, "heartbeat touch failed", "heartbeat_failed",
					logging.Error(err),
					logging.String("path", h.path),
					logging.String(logging.FieldErrorHint, "check the heartbeat directory is writable"),
					logging.String(logging.FieldImpact, "external supervisor may restart the daemon"),
				)
			}
		}
	}
}

func (h *Heartbeat) touch() error {
	now := h.now()
	return os.Chtimes(h.path, now, now)
}

// Age reports how long ago the heartbeat at path was last touched.
func Age(path string, now time.Time) (time.Duration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return now.Sub(info.ModTime()), nil
}
