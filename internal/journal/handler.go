package journal

import (
	"context"
	"log/slog"
	"strings"

	"dvbrx/internal/source"
)

// Handler copies warnings and errors into the journal so remote clients
// see faults without reading the log file.
type Handler struct {
	journal *Journal
	level   slog.Level
	attrs   []slog.Attr
}

// NewHandler returns a handler recording records at or above level.
func NewHandler(j *Journal, level slog.Level) *Handler {
	return &Handler{journal: j, level: level}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.journal != nil && level >= h.level
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	evt := Event{Kind: KindLog, RecordedAt: record.Time, Message: record.Message}
	var details []string
	visit := func(attr slog.Attr) bool {
		switch attr.Key {
		case "event_type":
			details = append([]string{attr.Value.String()}, details...)
		case "source_kind":
			evt.SourceKind = source.Kind(attr.Value.String())
		case "component", "error":
			details = append(details, attr.Key+"="+attr.Value.String())
		}
		return true
	}
	for _, attr := range h.attrs {
		visit(attr)
	}
	record.Attrs(visit)
	evt.Detail = strings.Join(details, " ")
	// a cancelled request context must not drop the record
	_, err := h.journal.Record(context.WithoutCancel(ctx), evt)
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

// WithGroup is a no-op; journal rows only keep top-level keys.
func (h *Handler) WithGroup(string) slog.Handler { return h }
