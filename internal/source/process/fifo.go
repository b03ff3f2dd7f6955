package process

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// EnsureFIFO creates a named pipe at path unless one already exists.
func EnsureFIFO(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := unix.Mkfifo(path, 0o644); err != nil {
			return fmt.Errorf("mkfifo %s: %w", path, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		return fmt.Errorf("%s exists and is not a named pipe", path)
	}
	return nil
}

// OpenFIFO opens a named pipe for non-blocking reads. The descriptor is
// opened read-write so it never sees end of file between writers and never
// blocks a writer's open.
func OpenFIFO(path string) (int, error) {
	if err := EnsureFIFO(path); err != nil {
		return -1, err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}
	return fd, nil
}

// DrainFD discards everything currently readable on a non-blocking descriptor.
func DrainFD(fd int) {
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			return
		}
	}
}

// HoldFIFO opens a named pipe read-only without blocking. Holding the
// descriptor lets a writer open the pipe before any consumer attaches.
func HoldFIFO(path string) (int, error) {
	if err := EnsureFIFO(path); err != nil {
		return -1, err
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}
	return fd, nil
}
