package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EventBackendOutput marks a line of captured backend output dumped after
// a failed start or a fault.
const EventBackendOutput = "backend_output_dump"

// FieldLine carries one line of backend output.
const FieldLine = "line"

// BackendOutput logs captured backend output, one warning per line. The
// console writes each as a single "|"-prefixed line under the source tags.
func BackendOutput(logger *slog.Logger, lines []string) {
	if logger == nil {
		return
	}
	for _, line := range lines {
		logger.Warn("backend output",
			String(FieldEventType, EventBackendOutput),
			String(FieldLine, line),
		)
	}
}

// consoleHandler writes one header line per record:
//
//	2026-01-02 10:00:00.000 INFO [player] (longmynd): tuned
//
// followed by a field list, or a single "|" line for backend output.
type consoleHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	attrs     []slog.Attr
	groups    []string
	addSource bool
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// consoleRecord is a record with the tag fields lifted out of its fields.
type consoleRecord struct {
	ts        time.Time
	level     slog.Level
	component string
	kind      string
	event     string
	message   string
	fields    []kv
}

func (h *consoleHandler) collect(record slog.Record) consoleRecord {
	rec := consoleRecord{ts: record.Time, level: record.Level, message: strings.TrimSpace(record.Message)}
	if rec.ts.IsZero() {
		rec.ts = time.Now()
	}
	if rec.message == "" {
		rec.message = "(no message)"
	}

	all := make([]kv, 0, record.NumAttrs()+len(h.attrs))
	flattenAttrs(&all, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&all, h.groups, attr)
		return true
	})
	for _, f := range dedupeKVsByKey(all) {
		switch f.key {
		case FieldComponent:
			rec.component = plainValue(f.value)
		case FieldSourceKind:
			rec.kind = plainValue(f.value)
		default:
			if f.key == FieldEventType {
				rec.event = plainValue(f.value)
			}
			rec.fields = append(rec.fields, f)
		}
	}
	return rec
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}
	rec := h.collect(record)

	var buf bytes.Buffer
	buf.Grow(128 + len(rec.fields)*32)
	if rec.event == EventBackendOutput {
		writeBackendLine(&buf, rec)
	} else {
		writeHeader(&buf, rec)
		if h.addSource {
			writeCaller(&buf, record.Source())
		}
		buf.WriteByte('\n')
		if rec.level < slog.LevelInfo {
			writeDebugFields(&buf, rec.fields)
		} else {
			writeInfoFields(&buf, rec.fields)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func writeTags(buf *bytes.Buffer, rec consoleRecord) {
	buf.WriteString(formatTimestamp(rec.ts))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(rec.level))
	if rec.component != "" {
		buf.WriteString(" [")
		buf.WriteString(rec.component)
		buf.WriteByte(']')
	}
	// always shown so a log tail can filter on "(kind)"
	if rec.kind != "" {
		buf.WriteString(" (")
		buf.WriteString(rec.kind)
		buf.WriteByte(')')
	}
}

func writeHeader(buf *bytes.Buffer, rec consoleRecord) {
	writeTags(buf, rec)
	buf.WriteString(": ")
	buf.WriteString(rec.message)
}

func writeBackendLine(buf *bytes.Buffer, rec consoleRecord) {
	writeTags(buf, rec)
	buf.WriteString(" | ")
	for _, f := range rec.fields {
		if f.key == FieldLine {
			buf.WriteString(plainValue(f.value))
			break
		}
	}
	buf.WriteByte('\n')
}

func writeCaller(buf *bytes.Buffer, src *slog.Source) {
	if src == nil || src.File == "" {
		return
	}
	buf.WriteString(" <")
	buf.WriteString(filepath.Base(src.File))
	buf.WriteByte(':')
	buf.WriteString(strconv.Itoa(src.Line))
	buf.WriteByte('>')
}

func writeInfoFields(buf *bytes.Buffer, attrs []kv) {
	fields, hidden := selectInfoFields(attrs, infoAttrLimit)
	for _, field := range fields {
		buf.WriteString("    - ")
		buf.WriteString(field.label)
		buf.WriteString(": ")
		buf.WriteString(field.value)
		buf.WriteByte('\n')
	}
	if hidden > 0 {
		buf.WriteString("    + ")
		buf.WriteString(strconv.Itoa(hidden))
		buf.WriteString(" hidden\n")
	}
}

func writeDebugFields(buf *bytes.Buffer, attrs []kv) {
	for _, f := range attrs {
		buf.WriteString("    ")
		buf.WriteString(f.key)
		buf.WriteString("=")
		buf.WriteString(fieldValue(f.value))
		buf.WriteByte('\n')
	}
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *consoleHandler) clone() *consoleHandler {
	next := *h
	next.attrs = slices.Clone(h.attrs)
	next.groups = slices.Clone(h.groups)
	return &next
}

type kv struct {
	key   string
	value slog.Value
}

// dedupeKVsByKey keeps the first position of each key with its last value,
// so a value bound by With can be overridden per record.
func dedupeKVsByKey(attrs []kv) []kv {
	positions := make(map[string]int, len(attrs))
	out := make([]kv, 0, len(attrs))
	for _, attr := range attrs {
		if attr.key == "" {
			continue
		}
		if pos, ok := positions[attr.key]; ok {
			out[pos].value = attr.value
			continue
		}
		positions[attr.key] = len(out)
		out = append(out, attr)
	}
	return out
}

func flattenAttrs(dst *[]kv, prefix []string, attrs []slog.Attr) {
	for _, attr := range attrs {
		flattenAttr(dst, prefix, attr)
	}
}

func flattenAttr(dst *[]kv, prefix []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = append(slices.Clone(prefix), attr.Key)
		}
		flattenAttrs(dst, next, attr.Value.Group())
		return
	}
	key := attr.Key
	if len(prefix) > 0 {
		key = strings.Join(append(slices.Clone(prefix), key), ".")
		key = strings.TrimSuffix(key, ".")
	}
	*dst = append(*dst, kv{key: key, value: attr.Value})
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
