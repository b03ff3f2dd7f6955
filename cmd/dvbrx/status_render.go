package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"dvbrx/internal/ipc"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var titleCaser = cases.Title(language.Und)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func statusKindFromSeverity(severity string) statusKind {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "ok":
		return statusOK
	case "warn", "warning":
		return statusWarn
	case "error":
		return statusError
	default:
		return statusInfo
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// titleLabel turns identifiers like "combituner" or "lo_side" into labels.
func titleLabel(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", " "))
	if value == "" {
		return ""
	}
	return titleCaser.String(value)
}

func receiverLines(rx ipc.Receiver, colorize bool) []string {
	lines := make([]string, 0, 8)
	sourceKind := statusOK
	if !rx.Valid {
		sourceKind = statusWarn
	}
	source := titleLabel(rx.Source)
	if !rx.Valid {
		source += " (parameters invalid)"
	}
	lines = append(lines, renderStatusLine("Source", sourceKind, source, colorize))
	lines = append(lines, renderStatusLine("Band", statusInfo, describeBand(rx.Band), colorize))
	if len(rx.Values) > 0 {
		parts := make([]string, 0, len(rx.Values))
		for _, name := range slices.Sorted(maps.Keys(rx.Values)) {
			parts = append(parts, fmt.Sprintf("%s=%s", name, rx.Values[name].String()))
		}
		lines = append(lines, renderStatusLine("Parameters", statusInfo, strings.Join(parts, " "), colorize))
	}

	stateKind := statusWarn
	switch {
	case rx.State.Locked:
		stateKind = statusOK
	case !rx.State.Started:
		stateKind = statusInfo
	}
	state := fmt.Sprintf("started=%s running=%s locked=%s counter=%d",
		yesNo(rx.State.Started), yesNo(rx.State.Running), yesNo(rx.State.Locked), rx.State.Counter)
	lines = append(lines, renderStatusLine("State", stateKind, state, colorize))

	media := rx.Media
	if rx.Container != "" {
		media = fmt.Sprintf("%s (%s)", media, rx.Container)
	}
	playKind := statusInfo
	if rx.Playing {
		playKind = statusOK
	}
	lines = append(lines, renderStatusLine("Media", playKind,
		fmt.Sprintf("%s playing=%s autoplay=%s", media, yesNo(rx.Playing), yesNo(rx.Autoplay)), colorize))

	if rx.WatchdogPending {
		lines = append(lines, renderStatusLine("Watchdog", statusWarn,
			fmt.Sprintf("restart pending in %dms", rx.WatchdogDelayMS), colorize))
	} else {
		lines = append(lines, renderStatusLine("Watchdog", statusOK, "idle", colorize))
	}
	return lines
}

func describeBand(band ipc.Band) string {
	parts := make([]string, 0, 6)
	if band.Name != "" {
		parts = append(parts, band.Name)
	}
	parts = append(parts, fmt.Sprintf("lo=%d/%s", band.LOFreq, band.LOSide))
	if band.Port != "" {
		parts = append(parts, "port="+band.Port)
	}
	if band.Polarity != "" {
		parts = append(parts, "pol="+band.Polarity)
	}
	if band.Domain != "" {
		parts = append(parts, "domain="+band.Domain)
	}
	if band.App != "" {
		parts = append(parts, "app="+band.App)
	}
	if band.GPIO != 0 {
		parts = append(parts, "gpio="+strconv.Itoa(band.GPIO))
	}
	return strings.Join(parts, " ")
}

func signalRows(sig ipc.Signal) [][]string {
	rows := make([][]string, 0, 12)
	add := func(label, value string) {
		if value != "" {
			rows = append(rows, []string{label, value})
		}
	}
	add("Standard", sig.Standard)
	add("Modulation", sig.Modulation)
	if sig.FreqKHz != 0 {
		add("Frequency", fmt.Sprintf("%d kHz", sig.FreqKHz))
	}
	add("Symbol rate", formatReading(sig.SymbolRate))
	add("Bandwidth", formatReading(sig.Bandwidth))
	add("Quality", formatReading(sig.Quality))
	add("Level", formatReading(sig.Level))
	if sig.Margin != nil {
		add("Margin", fmt.Sprintf("%.1f dB", *sig.Margin))
	}
	add("Provider", sig.Provider)
	add("Service", sig.Service)
	for _, id := range slices.Sorted(maps.Keys(sig.Streams)) {
		add("Stream "+id, sig.Streams[id])
	}
	for _, name := range slices.Sorted(maps.Keys(sig.Readings)) {
		r := sig.Readings[name]
		add(titleLabel(name), formatReading(&r))
	}
	return rows
}

func formatReading(r *ipc.Reading) string {
	if r == nil {
		return ""
	}
	value := strconv.FormatFloat(r.Value, 'f', -1, 64)
	if r.Unit == "" {
		return value
	}
	return value + " " + r.Unit
}

func eventCountRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, kind := range slices.Sorted(maps.Keys(counts)) {
		rows = append(rows, []string{titleLabel(kind), strconv.Itoa(counts[kind])})
	}
	return rows
}
