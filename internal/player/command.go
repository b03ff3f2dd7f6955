package player

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"dvbrx/internal/logging"
	"dvbrx/internal/source"
)

const (
	mediaPlaceholder = "{media}"
	commandStopGrace = 2 * time.Second
)

// CommandPlayback hands the media path to an external player process. The
// command line is split on whitespace; "{media}" is replaced by the media
// path, otherwise the path is appended as the last argument.
type CommandPlayback struct {
	args   []string
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

// NewCommandPlayback returns nil when command is blank.
func NewCommandPlayback(command string, logger *slog.Logger) *CommandPlayback {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CommandPlayback{args: args, logger: logging.NewComponentLogger(logger, "playback")}
}

func (c *CommandPlayback) argv(media source.Media) []string {
	argv := make([]string, 0, len(c.args)+1)
	substituted := false
	for _, arg := range c.args {
		if strings.Contains(arg, mediaPlaceholder) {
			arg = strings.ReplaceAll(arg, mediaPlaceholder, media.Path)
			substituted = true
		}
		argv = append(argv, arg)
	}
	if !substituted {
		argv = append(argv, media.Path)
	}
	return argv
}

// Play starts the player. A player that is still running is stopped first.
func (c *CommandPlayback) Play(media source.Media) error {
	if media.Path == "" {
		return errors.New("media path is empty")
	}
	if err := c.Stop(); err != nil {
		return err
	}
	argv := c.argv(media)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	exited := make(chan struct{})
	c.mu.Lock()
	c.cmd = cmd
	c.exited = exited
	c.mu.Unlock()

	c.logger.Info("player started",
		logging.String(logging.FieldEventType, "player_started"),
		logging.Int("pid", cmd.Process.Pid),
		logging.String("media", media.Path),
	)
	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		if c.cmd == cmd {
			c.cmd = nil
		}
		c.mu.Unlock()
		close(exited)
		if err != nil {
			c.logger.Debug("player exited", logging.Error(err))
		}
	}()
	return nil
}

// Stop terminates the player's process group and waits briefly for it.
func (c *CommandPlayback) Stop() error {
	c.mu.Lock()
	cmd, exited := c.cmd, c.exited
	c.mu.Unlock()
	if cmd == nil {
		return nil
	}
	pgid := -cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("terminate player: %w", err)
	}
	select {
	case <-exited:
	case <-time.After(commandStopGrace):
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		<-exited
	}
	return nil
}

// Playing reports whether the player process is alive.
func (c *CommandPlayback) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd != nil
}
