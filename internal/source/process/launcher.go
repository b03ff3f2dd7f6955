package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// Child is a launched backend process.
type Child interface {
	Pid() int
	Terminate() error
	Kill() error
	// Exited reports without blocking whether the child has exited.
	Exited() bool
	// Wait blocks up to timeout and reports whether the child has exited.
	Wait(timeout time.Duration) bool
}

// Launcher starts a child with stdout and stderr wired to output.
type Launcher interface {
	Launch(argv []string, output *os.File) (Child, error)
}

// ExecLauncher launches real processes.
type ExecLauncher struct{}

// Launch implements Launcher.
func (ExecLauncher) Launch(argv []string, output *os.File) (Child, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command line")
	}
	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	c := &execChild{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(c.done)
	}()
	return c, nil
}

type execChild struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (c *execChild) Pid() int { return c.cmd.Process.Pid }

func (c *execChild) Terminate() error {
	if c.Exited() {
		return nil
	}
	return c.cmd.Process.Signal(unix.SIGTERM)
}

func (c *execChild) Kill() error {
	if c.Exited() {
		return nil
	}
	return c.cmd.Process.Kill()
}

func (c *execChild) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *execChild) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		return c.Exited()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return true
	case <-timer.C:
		return false
	}
}
