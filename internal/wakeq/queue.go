package wakeq

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("wake queue closed")
	// ErrEmpty is returned by Recv when no item is pending.
	ErrEmpty = errors.New("wake queue empty")
)

// Queue is a single-producer single-consumer queue with a wake descriptor.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	rfd    int
	wfd    int
	closed bool
}

// New creates a queue backed by a fresh socket pair.
func New[T any]() (*Queue[T], error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	return &Queue[T]{rfd: fds[0], wfd: fds[1]}, nil
}

// FD returns the descriptor that becomes readable while items are pending.
func (q *Queue[T]) FD() int {
	return q.rfd
}

// Send enqueues v and writes its wake byte.
func (q *Queue[T]) Send(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, v)
	if _, err := unix.Write(q.wfd, []byte{0}); err != nil {
		q.items = q.items[:len(q.items)-1]
		return fmt.Errorf("write wake byte: %w", err)
	}
	return nil
}

// Recv consumes one wake byte and returns the matching item. It returns
// ErrEmpty without blocking when nothing is pending.
func (q *Queue[T]) Recv() (T, error) {
	var zero T
	buf := make([]byte, 1)
	for {
		n, err := unix.Read(q.rfd, buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return zero, ErrEmpty
		}
		if err != nil {
			q.mu.Lock()
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return zero, ErrClosed
			}
			return zero, fmt.Errorf("read wake byte: %w", err)
		}
		if n == 0 {
			return zero, ErrClosed
		}
		break
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return zero, errors.New("wake byte without queued item")
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, nil
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait blocks until the queue is readable or timeoutMs elapses. A negative
// timeout waits forever.
func (q *Queue[T]) Wait(timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(q.rfd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

// Close releases both descriptors and drops pending items.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.items = nil
	return errors.Join(unix.Close(q.wfd), unix.Close(q.rfd))
}
