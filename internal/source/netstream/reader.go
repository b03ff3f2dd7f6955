package netstream

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dvbrx/internal/logging"
	"dvbrx/internal/wakeq"
)

type eventKind int

const (
	eventLocked eventKind = iota
	eventUnlocked
	eventTimeout
	eventData
	eventError
)

func (k eventKind) String() string {
	switch k {
	case eventLocked:
		return "locked"
	case eventUnlocked:
		return "unlocked"
	case eventTimeout:
		return "timeout"
	case eventData:
		return "data"
	default:
		return "error"
	}
}

type readerEvent struct {
	kind  eventKind
	frame controlFrame
	raw   string
	err   error
}

// link holds the connection shared by successive readers so a stream stop
// can restart reading without reconnecting.
type link struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (l *link) get() *websocket.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// set stores a freshly dialled connection. It reports false, closing conn,
// if the link was shut down meanwhile.
func (l *link) set(conn *websocket.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		conn.Close()
		return false
	}
	l.conn = conn
	return true
}

// drop closes the current connection; the next reader dials again.
func (l *link) drop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

func (l *link) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// reader pulls frames off the link until the stream stops, a timeout
// expires or it is told to stop.
type reader struct {
	link        *link
	url         string
	dialer      *websocket.Dialer
	mediaFD     int
	events      *wakeq.Queue[readerEvent]
	timeout     time.Duration
	initTimeout time.Duration
	logger      *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping chan struct{}
	done     chan struct{}
	now      func() time.Time
}

func (r *reader) start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.stopping = make(chan struct{})
	r.done = make(chan struct{})
	if r.now == nil {
		r.now = time.Now
	}
	go r.run()
}

func (r *reader) alive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// stop asks the reader to finish and waits for it. The caller closes the
// link first so a blocked read returns; a pending dial is cancelled here.
func (r *reader) stop() {
	select {
	case <-r.stopping:
	default:
		close(r.stopping)
	}
	r.cancel()
	<-r.done
}

func (r *reader) stopped() bool {
	select {
	case <-r.stopping:
		return true
	default:
		return false
	}
}

func (r *reader) emit(ev readerEvent) {
	if r.stopped() {
		return
	}
	if err := r.events.Send(ev); err != nil {
		r.logger.Debug("drop reader event", logging.String("event", ev.kind.String()), logging.Error(err))
	}
}

// dial connects within the init timeout. The websocket handshake only
// honours the context deadline, so cancellation also expires the socket.
func (r *reader) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.initTimeout)
	defer cancel()

	d := *r.dialer
	netDial := d.NetDialContext
	if netDial == nil {
		netDial = (&net.Dialer{}).DialContext
	}
	var release func() bool
	d.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := netDial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		release = context.AfterFunc(r.ctx, func() { c.SetDeadline(time.Unix(1, 0)) })
		return c, nil
	}

	conn, _, err := d.DialContext(ctx, r.url, nil)
	if release != nil && !release() && err == nil {
		conn.Close()
		return nil, context.Canceled
	}
	return conn, err
}

func (r *reader) run() {
	defer close(r.done)
	defer r.cancel()

	conn := r.link.get()
	if conn == nil {
		c, err := r.dial()
		if err != nil {
			r.emit(readerEvent{kind: eventError, err: err})
			return
		}
		if !r.link.set(c) {
			return
		}
		conn = c
		r.logger.Info("stream connected", logging.String(logging.FieldEventType, "stream_connected"), logging.String("url", r.url))
	}

	var lastData time.Time
	lastPacket := r.now()
	for {
		deadline := lastPacket.Add(r.initTimeout)
		if !lastData.IsZero() {
			deadline = lastData.Add(r.timeout)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			r.emit(readerEvent{kind: eventError, err: err})
			return
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			switch {
			case r.stopped():
			case errors.As(err, &netErr) && netErr.Timeout() && lastData.IsZero():
				r.emit(readerEvent{kind: eventError, err: err})
			case errors.As(err, &netErr) && netErr.Timeout():
				r.emit(readerEvent{kind: eventTimeout, err: err})
			default:
				r.emit(readerEvent{kind: eventError, err: err})
			}
			return
		}
		lastPacket = r.now()

		switch msgType {
		case websocket.BinaryMessage:
			frame, err := parseMedia(data)
			if err != nil {
				r.logger.Debug("skip media frame", logging.Error(err))
				continue
			}
			if err := writeAll(r.mediaFD, flvTag(frame.tagType, frame.timestamp, frame.body), time.Second); err != nil {
				r.emit(readerEvent{kind: eventError, err: err})
				return
			}
			lastData = r.now()
		case websocket.TextMessage:
			frame, err := parseControl(data)
			if err != nil {
				r.logger.Debug("skip control frame", logging.Error(err))
				continue
			}
			r.emit(readerEvent{kind: eventData, frame: frame, raw: string(data)})
			if frame.Type != frameControl {
				continue
			}
			switch frame.Event {
			case controlStart:
				lastData = r.now()
				if err := writeAll(r.mediaFD, flvHeader, time.Second); err != nil {
					r.emit(readerEvent{kind: eventError, err: err})
					return
				}
				r.emit(readerEvent{kind: eventLocked})
			case controlStop:
				r.emit(readerEvent{kind: eventUnlocked})
				return
			}
		}

		if r.stopped() {
			return
		}
	}
}
