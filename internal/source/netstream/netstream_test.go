package netstream

import (
	"bytes"
	"encoding/binary"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"

	"dvbrx/internal/logging"
	"dvbrx/internal/source"
)

func TestFLVTag(t *testing.T) {
	got := flvTag(tagVideo, 0x01020304, []byte{0xaa, 0xbb})
	want := []byte{
		9, 0, 0, 2, // type, size
		0x02, 0x03, 0x04, 0x01, // timestamp, extended byte
		0, 0, 0, // stream id
		0xaa, 0xbb,
		0, 0, 0, 13,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("tag: % x", got)
	}
}

func TestParseMedia(t *testing.T) {
	if _, err := parseMedia([]byte{9, 0, 0}); err == nil {
		t.Fatal("expected short frame error")
	}
	if _, err := parseMedia([]byte{18, 0, 0, 0, 0}); err == nil {
		t.Fatal("expected tag type error")
	}
	f, err := parseMedia([]byte{8, 0, 0, 1, 0, 0x42})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.tagType != tagAudio || f.timestamp != 256 || !bytes.Equal(f.body, []byte{0x42}) {
		t.Fatalf("frame: %+v", f)
	}
}

func TestMetadataStreams(t *testing.T) {
	f, err := parseControl([]byte(`{"type":"metadata","audiocodecid":2,"videocodecid":99}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := f.streams()
	if len(got) != 2 || got[tagAudio] != source.CodecMP3 || got[tagVideo] != source.CodecUnknown {
		t.Fatalf("streams: %v", got)
	}
}

func TestStreamURL(t *testing.T) {
	p := NewProvider(Options{})
	tests := []struct {
		domain string
		want   string
	}{
		{"example.org:8080", "ws://example.org:8080/live/my%20stream"},
		{"wss://example.org/base", "wss://example.org/base/live/my%20stream"},
	}
	for _, tt := range tests {
		band := source.Band{Kind: source.KindNetStream, Domain: tt.domain, App: "live"}
		cfg := source.NewConfig(band, p.Profile(band))
		if err := cfg.Set(source.ParamStream, source.StringValue("my stream")); err != nil {
			t.Fatalf("set: %v", err)
		}
		got, err := streamURL(cfg)
		if err != nil {
			t.Fatalf("url: %v", err)
		}
		if got != tt.want {
			t.Errorf("streamURL(%q) = %q want %q", tt.domain, got, tt.want)
		}
	}
}

func TestStreamNameValidity(t *testing.T) {
	p := NewProvider(Options{})
	band := p.DefaultBand()
	cfg := source.NewConfig(band, p.Profile(band))
	if cfg.Valid() {
		t.Fatal("empty stream name should be invalid")
	}
	if err := cfg.Set(source.ParamStream, source.StringValue("Caps")); err == nil && cfg.Valid() {
		t.Fatal("upper case should be rejected")
	}
	if err := cfg.Set(source.ParamStream, source.StringValue("gb3xyz-1")); err != nil || !cfg.Valid() {
		t.Fatalf("valid name rejected: %v", err)
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func mediaFrameBytes(tagType byte, ts uint32, body []byte) []byte {
	out := []byte{tagType}
	out = binary.BigEndian.AppendUint32(out, ts)
	return append(out, body...)
}

func newTestManager(t *testing.T, srv *httptest.Server, timeout, initTimeout time.Duration) *Manager {
	t.Helper()
	return newManagerFor(t, strings.TrimPrefix(srv.URL, "http://"), timeout, initTimeout)
}

func newManagerFor(t *testing.T, domain string, timeout, initTimeout time.Duration) *Manager {
	t.Helper()
	p := NewProvider(Options{MediaPath: filepath.Join(t.TempDir(), "stream")})
	band := source.Band{
		Kind:        source.KindNetStream,
		Domain:      domain,
		App:         "live",
		Timeout:     timeout,
		InitTimeout: initTimeout,
	}
	cfg := source.NewConfig(band, p.Profile(band))
	if err := cfg.Set(source.ParamStream, source.StringValue("test")); err != nil {
		t.Fatalf("set: %v", err)
	}
	mgr, err := p.NewManager(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr.(*Manager)
}

// pump runs the manager's event handling until cond holds.
func pump(t *testing.T, m *Manager, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached, state %s", m.CoreState())
		}
		if ready, err := m.events.Wait(20); err != nil {
			t.Fatalf("wait: %v", err)
		} else if ready {
			m.HandleFD(m.events.FD())
		}
	}
}

func holdOpen(c *websocket.Conn) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func TestManagerStreamStopKeepsConnection(t *testing.T) {
	var conns atomic.Int32
	sendStop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/live/test" {
			http.NotFound(w, r)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		conns.Add(1)
		c.WriteJSON(map[string]any{"type": "control", "event": "start"})
		c.WriteJSON(map[string]any{"type": "status", "code": "NetStream.Play.Start"})
		c.WriteJSON(map[string]any{"type": "metadata", "audiocodecid": 10, "videocodecid": 7})
		c.WriteMessage(websocket.BinaryMessage, mediaFrameBytes(tagVideo, 40, []byte{1, 2, 3}))
		<-sendStop
		c.WriteJSON(map[string]any{"type": "control", "event": "stop"})
		holdOpen(c)
	}))
	defer srv.Close()

	m := newTestManager(t, srv, 5*time.Second, 5*time.Second)
	defer m.Close()

	m.Start()
	pump(t, m, func() bool { return m.CoreState().Locked })
	if m.CoreState().Counter != 1 {
		t.Fatalf("counter after lock: %d", m.CoreState().Counter)
	}
	pump(t, m, func() bool { return len(m.Status().Snapshot().Streams) == 2 })
	streams := m.Status().Snapshot().Streams
	if streams[tagAudio] != source.CodecAAC || streams[tagVideo] != source.CodecH264 {
		t.Fatalf("streams: %v", streams)
	}

	want := append(append([]byte{}, flvHeader...), flvTag(tagVideo, 40, []byte{1, 2, 3})...)
	got := readMedia(t, m.Media().FD, len(want))
	if !bytes.Equal(got, want) {
		t.Fatalf("media: % x", got)
	}

	close(sendStop)
	pump(t, m, func() bool { return !m.CoreState().Locked })
	state := m.CoreState()
	if !state.Started || state.Counter != 2 {
		t.Fatalf("after stream stop: %s", state)
	}
	if n := conns.Load(); n != 1 {
		t.Fatalf("stream stop should keep the connection, got %d connections", n)
	}
}

func TestManagerTimeoutReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		if conns.Add(1) == 1 {
			c.WriteJSON(map[string]any{"type": "control", "event": "start"})
			c.WriteMessage(websocket.BinaryMessage, mediaFrameBytes(tagAudio, 0, []byte{9}))
		}
		holdOpen(c)
	}))
	defer srv.Close()

	m := newTestManager(t, srv, 150*time.Millisecond, 5*time.Second)
	defer m.Close()

	m.Start()
	pump(t, m, func() bool { return conns.Load() == 2 })
	if m.CoreState().Locked {
		t.Fatal("timeout should drop the lock")
	}
}

func TestManagerInitTimeoutStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		holdOpen(c)
	}))
	defer srv.Close()

	m := newTestManager(t, srv, time.Second, 100*time.Millisecond)
	defer m.Close()

	m.Start()
	if !m.CoreState().Started {
		t.Fatal("expected started")
	}
	pump(t, m, func() bool { return m.reader == nil })
	if m.CoreState().Started {
		t.Fatal("init timeout should stop the stream")
	}
}

func TestStopDuringStalledHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	m := newManagerFor(t, ln.Addr().String(), time.Second, 10*time.Second)
	defer m.Close()

	m.Start()
	select {
	case c := <-accepted:
		defer c.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("manager never dialled")
	}

	begin := time.Now()
	m.Stop(false, false)
	if took := time.Since(begin); took > 2*time.Second {
		t.Fatalf("stop waited %s for the handshake", took)
	}
	if m.CoreState().Started {
		t.Fatal("expected stopped")
	}
}

func TestRestartIsSpaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		holdOpen(c)
	}))
	defer srv.Close()

	m := newTestManager(t, srv, time.Second, time.Second)
	defer m.Close()
	var slept time.Duration
	m.sleep = func(d time.Duration) { slept = d }
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	m.Start()
	now = now.Add(200 * time.Millisecond)
	m.Restart()
	if slept != 300*time.Millisecond {
		t.Fatalf("slept %s", slept)
	}
}

func readMedia(t *testing.T, fd, n int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < n {
		if time.Now().After(deadline) {
			t.Fatalf("media short: % x", out)
		}
		pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(pfds, 50); err != nil && err != unix.EINTR {
			t.Fatalf("poll: %v", err)
		}
		k, err := unix.Read(fd, buf)
		if k > 0 {
			out = append(out, buf[:k]...)
		}
		if err != nil && err != unix.EAGAIN {
			t.Fatalf("read: %v", err)
		}
	}
	return out
}
