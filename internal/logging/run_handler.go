package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// FieldSessionID carries the daemon run id. It matches the run journal id.
const FieldSessionID = "session_id"

// runHandler is the root of a daemon run's logger. It stamps the session id
// once and hands the record to every sink that accepts its level: the
// console or JSON writer first, then taps such as the run journal.
type runHandler struct {
	session string
	sinks   []slog.Handler
}

func newRunHandler(session string, sinks ...slog.Handler) slog.Handler {
	sinks = slices.DeleteFunc(slices.Clone(sinks), func(h slog.Handler) bool { return h == nil })
	switch {
	case len(sinks) == 0:
		return NoopHandler{}
	case len(sinks) == 1 && session == "":
		return sinks[0]
	}
	return &runHandler{session: session, sinks: sinks}
}

func (h *runHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(h.sinks, func(s slog.Handler) bool { return s.Enabled(ctx, level) })
}

func (h *runHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.session != "" {
		record.AddAttrs(slog.String(FieldSessionID, h.session))
	}
	var errs []error
	last := len(h.sinks) - 1
	for i, sink := range h.sinks {
		if !sink.Enabled(ctx, record.Level) {
			continue
		}
		rec := record
		if i < last {
			rec = record.Clone()
		}
		if err := sink.Handle(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(s slog.Handler) slog.Handler { return s.WithAttrs(attrs) })
}

func (h *runHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(s slog.Handler) slog.Handler { return s.WithGroup(name) })
}

func (h *runHandler) derive(fn func(slog.Handler) slog.Handler) *runHandler {
	next := &runHandler{session: h.session, sinks: make([]slog.Handler, len(h.sinks))}
	for i, s := range h.sinks {
		next.sinks[i] = fn(s)
	}
	return next
}

// TeeLogger adds taps to a run logger. A tap sees the same records as the
// main output, session id included. Attributes bound on base with With are
// not replayed onto the taps.
func TeeLogger(base *slog.Logger, taps ...slog.Handler) *slog.Logger {
	if base == nil {
		return slog.New(newRunHandler("", taps...))
	}
	if rh, ok := base.Handler().(*runHandler); ok {
		return slog.New(newRunHandler(rh.session, append(slices.Clone(rh.sinks), taps...)...))
	}
	return slog.New(newRunHandler("", append([]slog.Handler{base.Handler()}, taps...)...))
}
