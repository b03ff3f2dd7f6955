package process

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Terminal is the parent side of the child's output channel. Read is
// non-blocking; Writer is handed to the child as stdout and stderr.
type Terminal struct {
	readFD int
	writer *os.File
	pty    bool
}

// OpenTerminal opens a pseudo-terminal pair. When no pty is available it
// falls back to a pipe, which loses the child's line buffering.
func OpenTerminal() (*Terminal, error) {
	term, err := openPTY()
	if err == nil {
		return term, nil
	}
	var fds [2]int
	if perr := unix.Pipe2(fds[:], unix.O_CLOEXEC); perr != nil {
		return nil, errors.Join(err, fmt.Errorf("pipe: %w", perr))
	}
	if nerr := unix.SetNonblock(fds[0], true); nerr != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, fmt.Errorf("set nonblock: %w", nerr)
	}
	return &Terminal{readFD: fds[0], writer: os.NewFile(uintptr(fds[1]), "output-pipe")}, nil
}

func openPTY() (*Terminal, error) {
	master, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open ptmx: %w", err)
	}
	fail := func(err error) (*Terminal, error) {
		unix.Close(master)
		return nil, err
	}
	if err := unix.IoctlSetPointerInt(master, unix.TIOCSPTLCK, 0); err != nil {
		return fail(fmt.Errorf("unlock pty: %w", err))
	}
	n, err := unix.IoctlGetInt(master, unix.TIOCGPTN)
	if err != nil {
		return fail(fmt.Errorf("pty number: %w", err))
	}
	name := fmt.Sprintf("/dev/pts/%d", n)
	slave, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fail(fmt.Errorf("open %s: %w", name, err))
	}
	if err := unix.SetNonblock(master, true); err != nil {
		unix.Close(slave)
		return fail(fmt.Errorf("set nonblock: %w", err))
	}
	return &Terminal{readFD: master, writer: os.NewFile(uintptr(slave), name), pty: true}, nil
}

// FD is the readable parent-side descriptor.
func (t *Terminal) FD() int { return t.readFD }

// Writer is the child-side end.
func (t *Terminal) Writer() *os.File { return t.writer }

// IsPTY reports whether the terminal is a real pseudo-terminal.
func (t *Terminal) IsPTY() bool { return t.pty }

// CloseWriter closes the child-side end so the reader sees end of data once drained.
func (t *Terminal) CloseWriter() error {
	if t.writer == nil {
		return nil
	}
	err := t.writer.Close()
	t.writer = nil
	return err
}

// Close releases both ends.
func (t *Terminal) Close() error {
	werr := t.CloseWriter()
	var rerr error
	if t.readFD >= 0 {
		rerr = unix.Close(t.readFD)
		t.readFD = -1
	}
	return errors.Join(werr, rerr)
}

// LineReader splits non-blocking reads from a descriptor into lines.
type LineReader struct {
	fd      int
	partial []byte
	buf     []byte
}

// NewLineReader reads from fd, which must be non-blocking.
func NewLineReader(fd int) *LineReader {
	return &LineReader{fd: fd, buf: make([]byte, 4096)}
}

// ReadLines returns every complete line currently available. eof is true
// when the writer side has gone away; any trailing partial line is then
// returned as well.
func (r *LineReader) ReadLines() (lines []string, eof bool, err error) {
	for {
		n, rerr := unix.Read(r.fd, r.buf)
		switch {
		case rerr == unix.EINTR:
			continue
		case rerr == unix.EAGAIN:
			return lines, false, nil
		case rerr == unix.EIO:
			// a pty master reports EIO once no slave is open
			return r.flush(lines), true, nil
		case rerr != nil:
			return lines, false, rerr
		case n == 0:
			return r.flush(lines), true, nil
		}
		r.partial = append(r.partial, r.buf[:n]...)
		for {
			i := bytes.IndexByte(r.partial, '\n')
			if i < 0 {
				break
			}
			lines = append(lines, strings.TrimRight(string(r.partial[:i]), "\r"))
			r.partial = r.partial[i+1:]
		}
	}
}

func (r *LineReader) flush(lines []string) []string {
	if len(r.partial) > 0 {
		lines = append(lines, strings.TrimRight(string(r.partial), "\r"))
		r.partial = nil
	}
	return lines
}

// Reset discards any buffered partial line.
func (r *LineReader) Reset() {
	r.partial = nil
}
