package process

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

type fakeChild struct {
	pid        int
	exited     atomic.Bool
	exitOnTerm bool
	terminated atomic.Bool
	killed     atomic.Bool
}

func (c *fakeChild) Pid() int { return c.pid }

func (c *fakeChild) Terminate() error {
	c.terminated.Store(true)
	if c.exitOnTerm {
		c.exited.Store(true)
	}
	return nil
}

func (c *fakeChild) Kill() error {
	c.killed.Store(true)
	c.exited.Store(true)
	return nil
}

func (c *fakeChild) Exited() bool { return c.exited.Load() }

func (c *fakeChild) Wait(timeout time.Duration) bool {
	if c.exited.Load() {
		return true
	}
	time.Sleep(timeout)
	return c.exited.Load()
}

type fakeLauncher struct {
	child *fakeChild
	lines []string
	argv  []string
}

func (l *fakeLauncher) Launch(argv []string, output *os.File) (Child, error) {
	l.argv = argv
	for _, line := range l.lines {
		if _, err := output.WriteString(line + "\n"); err != nil {
			return nil, err
		}
	}
	return l.child, nil
}

func waitReadable(t *testing.T, fd int) {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	if _, err := unix.Poll(fds, 1000); err != nil {
		t.Fatalf("poll: %v", err)
	}
}

func TestSupervisorCapturesOutput(t *testing.T) {
	launcher := &fakeLauncher{child: &fakeChild{pid: 42, exitOnTerm: true}, lines: []string{"Status: opened fifo ok", "Flow: LNA init"}}
	sup, err := NewSupervisor(launcher, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	defer sup.Close()

	if err := sup.Launch([]string{"longmynd", "-t", "media"}); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !sup.Alive() || sup.Pid() != 42 {
		t.Fatalf("expected live child 42")
	}
	waitReadable(t, sup.OutputFD())
	var got []string
	for len(got) < 2 {
		got = append(got, sup.ReadOutput()...)
		if len(got) < 2 {
			waitReadable(t, sup.OutputFD())
		}
	}
	if !slices.Equal(got, launcher.lines) {
		t.Fatalf("lines: got %q", got)
	}
	if err := sup.Launch([]string{"again"}); err == nil {
		t.Fatal("expected error launching a second child")
	}
}

func TestSupervisorStopTerminates(t *testing.T) {
	child := &fakeChild{pid: 7, exitOnTerm: true}
	sup, err := NewSupervisor(&fakeLauncher{child: child}, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	defer sup.Close()
	oldFD := sup.OutputFD()
	if err := sup.Launch([]string{"x"}); err != nil {
		t.Fatalf("launch: %v", err)
	}

	sup.Stop(false, false)
	if !child.terminated.Load() || child.killed.Load() {
		t.Fatalf("expected terminate without kill")
	}
	if sup.HasChild() {
		t.Fatal("child should be cleared")
	}
	if sup.OutputFD() < 0 {
		t.Fatalf("expected a fresh terminal, old fd %d", oldFD)
	}
}

func TestSupervisorWaitFirstKillsAfterGrace(t *testing.T) {
	child := &fakeChild{pid: 9}
	sup, err := NewSupervisor(&fakeLauncher{child: child}, 30*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	defer sup.Close()
	if err := sup.Launch([]string{"x"}); err != nil {
		t.Fatalf("launch: %v", err)
	}

	sup.Stop(false, true)
	if child.terminated.Load() {
		t.Fatal("waitFirst should not terminate")
	}
	if !child.killed.Load() {
		t.Fatal("expected kill after grace period")
	}
}

func TestExecLauncherRunsProcess(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	sup, err := NewSupervisor(nil, time.Second, nil)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	defer sup.Close()
	if err := sup.Launch([]string{"/bin/sh", "-c", "echo ready; exit 0"}); err != nil {
		t.Fatalf("launch: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	var got []string
	for time.Now().Before(deadline) && !slices.Contains(got, "ready") {
		waitReadable(t, sup.OutputFD())
		got = append(got, sup.ReadOutput()...)
	}
	if !slices.Contains(got, "ready") {
		t.Fatalf("output: %q", got)
	}
	sup.Stop(false, false)
	if sup.Alive() {
		t.Fatal("child should be gone")
	}
}

func TestFIFO(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status")
	fd, err := OpenFIFO(path)
	if err != nil {
		t.Fatalf("open fifo: %v", err)
	}
	defer unix.Close(fd)

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if _, err := w.WriteString("$1,4\n$13,GB3HV"); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()

	r := NewLineReader(fd)
	lines, eof, err := r.ReadLines()
	if err != nil || eof {
		t.Fatalf("read: %v eof=%t", err, eof)
	}
	if !slices.Equal(lines, []string{"$1,4"}) {
		t.Fatalf("lines: %q", lines)
	}

	plain := filepath.Join(dir, "plain")
	if err := os.WriteFile(plain, nil, 0o644); err != nil {
		t.Fatalf("write plain: %v", err)
	}
	if err := EnsureFIFO(plain); err == nil || !strings.Contains(err.Error(), "not a named pipe") {
		t.Fatalf("expected not-a-pipe error, got %v", err)
	}
}
