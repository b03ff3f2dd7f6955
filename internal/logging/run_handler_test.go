package logging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingHandler keeps the top-level attributes of every record it accepts.
type recordingHandler struct {
	level slog.Level
	err   error
	bound []slog.Attr

	mu      *sync.Mutex
	records *[]map[string]string
}

func newRecordingHandler(level slog.Level) *recordingHandler {
	return &recordingHandler{level: level, mu: &sync.Mutex{}, records: &[]map[string]string{}}
}

func (h *recordingHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *recordingHandler) Handle(_ context.Context, record slog.Record) error {
	got := map[string]string{"msg": record.Message}
	for _, attr := range h.bound {
		got[attr.Key] = attr.Value.String()
	}
	record.Attrs(func(attr slog.Attr) bool {
		got[attr.Key] = attr.Value.String()
		return true
	})
	h.mu.Lock()
	*h.records = append(*h.records, got)
	h.mu.Unlock()
	return h.err
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.bound = append(append([]slog.Attr(nil), h.bound...), attrs...)
	return &next
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) all() []map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]map[string]string(nil), *h.records...)
}

func TestRunHandlerStampsSessionOnEverySink(t *testing.T) {
	console := newRecordingHandler(slog.LevelInfo)
	journal := newRecordingHandler(slog.LevelWarn)
	logger := slog.New(newRunHandler("run-7", console, journal))
	logger = NewSourceLogger(logger, "player", "longmynd")

	logger.Info("tuned", String(FieldBand, "QO-100"))
	logger.Warn("lock lost")

	if got := console.all(); len(got) != 2 || got[0][FieldSessionID] != "run-7" || got[0][FieldBand] != "QO-100" {
		t.Fatalf("console records %v", got)
	}
	got := journal.all()
	if len(got) != 1 || got[0]["msg"] != "lock lost" {
		t.Fatalf("journal should only see warnings, got %v", got)
	}
	if got[0][FieldSessionID] != "run-7" || got[0][FieldSourceKind] != "longmynd" {
		t.Fatalf("journal record missing run tags: %v", got[0])
	}
}

func TestTeeLoggerJoinsExistingRun(t *testing.T) {
	console := newRecordingHandler(slog.LevelDebug)
	base := slog.New(newRunHandler("run-1", console))
	tap := newRecordingHandler(slog.LevelWarn)

	logger := TeeLogger(base, tap)
	rh, ok := logger.Handler().(*runHandler)
	if !ok || len(rh.sinks) != 2 || rh.session != "run-1" {
		t.Fatalf("expected the tap added to the run handler, got %#v", logger.Handler())
	}
	logger.Warn("watchdog restart", Duration("delay", 400*time.Millisecond))
	if got := tap.all(); len(got) != 1 || got[0][FieldSessionID] != "run-1" {
		t.Fatalf("tap records %v", got)
	}
	if got := console.all(); len(got) != 1 {
		t.Fatalf("console records %v", got)
	}
}

func TestTeeLoggerWithoutRun(t *testing.T) {
	tap := newRecordingHandler(slog.LevelInfo)
	if h := TeeLogger(nil, tap).Handler(); h != slog.Handler(tap) {
		t.Fatalf("a lone tap should be used directly, got %#v", h)
	}
	if _, ok := newRunHandler("", nil, nil).(NoopHandler); !ok {
		t.Fatal("expected a no-op handler without sinks")
	}

	plain := newRecordingHandler(slog.LevelInfo)
	logger := TeeLogger(slog.New(plain), tap)
	logger.Info("hotplug")
	if len(plain.all()) != 1 || len(tap.all()) != 1 {
		t.Fatalf("plain=%v tap=%v", plain.all(), tap.all())
	}
	if _, ok := tap.all()[0][FieldSessionID]; ok {
		t.Fatal("no session id expected outside a run")
	}
}

func TestRunHandlerKeepsDeliveringAfterSinkError(t *testing.T) {
	failing := newRecordingHandler(slog.LevelInfo)
	failing.err = errors.New("journal closed")
	console := newRecordingHandler(slog.LevelInfo)
	h := newRunHandler("run-2", failing, console)

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelWarn, "fault", 0))
	if !errors.Is(err, failing.err) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if len(console.all()) != 1 {
		t.Fatal("later sinks must still receive the record")
	}
}

func TestValueRendering(t *testing.T) {
	tests := []struct {
		value slog.Value
		want  string
	}{
		{slog.Float64Value(0.1 + 0.2), "0.3"},
		{slog.Float64Value(-65.25), "-65.25"},
		{slog.DurationValue(1600*time.Millisecond + 3*time.Microsecond), "1.6s"},
		{slog.DurationValue(250 * time.Microsecond), "250µs"},
		{slog.StringValue("Test card"), `"Test card"`},
		{slog.StringValue("DVB-S2"), "DVB-S2"},
		{slog.AnyValue(errors.New("no tuner")), `"no tuner"`},
	}
	for _, tt := range tests {
		if got := fieldValue(tt.value); got != tt.want {
			t.Errorf("fieldValue(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
	if got := plainValue(slog.StringValue("Test card")); got != "Test card" {
		t.Fatalf("plainValue = %q", got)
	}
}
