package netstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// FLV tag types carried in media frames.
const (
	tagAudio = 8
	tagVideo = 9
)

// flvHeader announces an FLV stream carrying audio and video.
var flvHeader = []byte{'F', 'L', 'V', 0x01, 0x05, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}

var errWriteStalled = errors.New("media pipe stalled")

// flvTag frames body as a single FLV tag followed by its back pointer.
func flvTag(tagType byte, timestamp uint32, body []byte) []byte {
	out := make([]byte, 11, 11+len(body)+4)
	out[0] = tagType
	putUint24(out[1:4], uint32(len(body)))
	putUint24(out[4:7], timestamp&0xffffff)
	out[7] = byte(timestamp >> 24)
	// stream id stays zero
	out = append(out, body...)
	return binary.BigEndian.AppendUint32(out, uint32(len(body)+11))
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// writeAll writes buf to a non-blocking descriptor, waiting up to stall for
// the reader to make room each time the pipe is full.
func writeAll(fd int, buf []byte, stall time.Duration) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if n > 0 {
			buf = buf[n:]
		}
		switch {
		case err == nil:
		case errors.Is(err, unix.EAGAIN):
			pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			ready, perr := unix.Poll(pfds, int(stall/time.Millisecond))
			if perr != nil && !errors.Is(perr, unix.EINTR) {
				return fmt.Errorf("poll media pipe: %w", perr)
			}
			if ready == 0 {
				return errWriteStalled
			}
		case errors.Is(err, unix.EINTR):
		default:
			return fmt.Errorf("write media pipe: %w", err)
		}
	}
	return nil
}
