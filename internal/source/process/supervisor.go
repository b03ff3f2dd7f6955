package process

import (
	"fmt"
	"log/slog"
	"time"

	"dvbrx/internal/logging"
)

// DefaultGrace is how long a stopping child may take before it is killed.
const DefaultGrace = 4 * time.Second

const pollSlice = 100 * time.Millisecond

// Supervisor owns one backend child and its output terminal.
type Supervisor struct {
	launcher Launcher
	logger   *slog.Logger
	grace    time.Duration

	term   *Terminal
	reader *LineReader
	child  Child
	output []string
}

// NewSupervisor opens the output terminal. A nil launcher runs real processes.
func NewSupervisor(launcher Launcher, grace time.Duration, logger *slog.Logger) (*Supervisor, error) {
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Supervisor{launcher: launcher, logger: logger, grace: grace}
	if err := s.openTerminal(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Supervisor) openTerminal() error {
	term, err := OpenTerminal()
	if err != nil {
		return fmt.Errorf("open output terminal: %w", err)
	}
	if !term.IsPTY() {
		logging.WarnWithContext(s.logger, "pseudo-terminal unavailable, using pipe", "pty_fallback",
			logging.String(logging.FieldErrorHint, "check /dev/ptmx permissions"),
			logging.String(logging.FieldImpact, "backend output may arrive in blocks"),
		)
	}
	s.term = term
	s.reader = NewLineReader(term.FD())
	return nil
}

// OutputFD is the descriptor carrying the child's combined output.
func (s *Supervisor) OutputFD() int {
	if s.term == nil {
		return -1
	}
	return s.term.FD()
}

// HasChild reports whether a child has been launched and not yet stopped.
func (s *Supervisor) HasChild() bool { return s.child != nil }

// Alive reports whether the launched child is still running.
func (s *Supervisor) Alive() bool {
	return s.child != nil && !s.child.Exited()
}

// Pid returns the child's process id, or 0.
func (s *Supervisor) Pid() int {
	if s.child == nil {
		return 0
	}
	return s.child.Pid()
}

// Launch starts a child. The output log is cleared.
func (s *Supervisor) Launch(argv []string) error {
	if s.child != nil {
		return fmt.Errorf("child %d already running", s.child.Pid())
	}
	if s.term == nil {
		if err := s.openTerminal(); err != nil {
			return err
		}
	}
	s.output = nil
	s.reader.Reset()
	child, err := s.launcher.Launch(argv, s.term.Writer())
	if err != nil {
		return err
	}
	s.child = child
	s.logger.Info("backend launched",
		logging.String(logging.FieldEventType, "backend_launched"),
		logging.Int("pid", child.Pid()),
		logging.Any("argv", argv),
	)
	return nil
}

// ReadOutput returns newly available output lines and records them in the log.
func (s *Supervisor) ReadOutput() []string {
	if s.reader == nil {
		return nil
	}
	lines, _, err := s.reader.ReadLines()
	if err != nil {
		s.logger.Debug("output read failed", logging.Error(err))
	}
	s.output = append(s.output, lines...)
	return lines
}

// Output returns the output captured since the last launch.
func (s *Supervisor) Output() []string {
	return append([]string(nil), s.output...)
}

// Stop ends the child. With waitFirst the child gets the grace period to
// exit by itself; otherwise it is terminated and then given the grace
// period. Either way it is killed once the grace period runs out, and a
// forced kill always dumps the log. Buffered output is drained before the
// terminal is replaced with a fresh one.
func (s *Supervisor) Stop(dump, waitFirst bool) {
	if s.child != nil {
		if !waitFirst {
			if err := s.child.Terminate(); err != nil {
				s.logger.Debug("terminate failed", logging.Error(err))
			}
		}
		if !s.communicate(s.grace) {
			dump = true
			if err := s.child.Kill(); err != nil {
				s.logger.Debug("kill failed", logging.Error(err))
			}
			logging.WarnWithContext(s.logger, "backend killed after grace period", "backend_killed",
				logging.Bool("requested", !waitFirst),
				logging.Duration("grace", s.grace),
				logging.String(logging.FieldErrorHint, "backend ignored termination, check the device"),
				logging.String(logging.FieldImpact, "receiver restarts from scratch"),
			)
			s.communicate(s.grace)
		}
	}

	if s.term != nil {
		_ = s.term.CloseWriter()
		lines, _, _ := s.reader.ReadLines()
		s.output = append(s.output, lines...)
		_ = s.term.Close()
		s.term = nil
	}
	s.child = nil

	if err := s.openTerminal(); err != nil {
		logging.ErrorWithContext(s.logger, "reopen output terminal failed", "terminal_reopen_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check file descriptor limits"),
		)
	}

	if dump {
		s.dump()
	}
}

// communicate drains output while waiting for the child to exit, marking
// lines seen after the stop request.
func (s *Supervisor) communicate(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		lines, _, _ := s.reader.ReadLines()
		for _, line := range lines {
			s.output = append(s.output, "Zombie: "+line)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return s.child.Exited()
		}
		if s.child.Wait(min(pollSlice, remaining)) {
			lines, _, _ := s.reader.ReadLines()
			for _, line := range lines {
				s.output = append(s.output, "Zombie: "+line)
			}
			return true
		}
	}
}

func (s *Supervisor) dump() {
	logging.BackendOutput(s.logger, s.output)
}

// Close stops any child and releases the terminal.
func (s *Supervisor) Close() error {
	if s.child != nil {
		s.Stop(false, false)
	}
	if s.term == nil {
		return nil
	}
	err := s.term.Close()
	s.term = nil
	s.reader = nil
	return err
}
