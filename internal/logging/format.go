package logging

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"
)

// consoleTimeLayout keeps milliseconds: a backend's lock and milestone
// lines often land within the same second.
const consoleTimeLayout = "2006-01-02 15:04:05.000"

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.In(time.Local).Format(consoleTimeLayout)
}

// plainValue renders v unquoted, for header tags and backend output.
func plainValue(v slog.Value) string { return renderValue(v, false) }

// fieldValue renders v for a field list, quoting ambiguous strings.
func fieldValue(v slog.Value) string { return renderValue(v, true) }

func renderValue(v slog.Value, quote bool) string {
	v = v.Resolve()
	var s string
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return formatReading(v.Float64())
	case slog.KindDuration:
		return roundDuration(v.Duration()).String()
	case slog.KindTime:
		return formatTimestamp(v.Time())
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if quote && needsQuotes(s) {
		return strconv.Quote(s)
	}
	return s
}

// formatReading trims float noise from signal readings (MER, power, margin)
// to three decimals.
func formatReading(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(math.Round(f*1000)/1000, 'f', -1, 64)
}

// roundDuration drops sub-millisecond noise from watchdog delays and
// timeouts. Shorter durations are kept as they are.
func roundDuration(d time.Duration) time.Duration {
	if d < time.Millisecond && d > -time.Millisecond {
		return d
	}
	return d.Round(time.Millisecond)
}

func needsQuotes(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return true
		}
	}
	return false
}
