package combituner

import (
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"dvbrx/internal/logging"
	"dvbrx/internal/source"
)

// Lines the receiver prints while initialising; all must be seen before
// it counts as running.
var startupLines = []string{
	"[GetChipId] chip id:AVL6862",
	"[GetFamilyId] Family ID:0x4955",
	"[AVL_Init] AVL_Initialize Booted!",
	"[AVL_Init] ok",
	"[DVB_Tx_tuner_Lock] Tuner locked!",
}

// scanFailLine is printed whenever no signal is present and is not an error.
const scanFailLine = "[DVBTx_Channel_ScanLock_Example] DVBTx channel scan is fail,Err."

var (
	validMod   = []string{"DVB-T", "DVB-T2"}
	validFFT   = []string{"1K", "2K", "4K", "8K", "16K", "32K"}
	validConst = []string{"QPSK", "16 QAM", "64 QAM", "256 QAM"}
	validFEC   = []string{"1/2", "3/5", "2/3", "3/4", "4/5", "5/6", "6/7", "7/8", "8/9"}
	validGuard = []string{"1/4", "19/128", "1/8", "19/256", "1/16", "1/32", "1/128"}
)

// modParts accumulates the modulation description, which arrives one
// field per line.
type modParts struct {
	mod   string
	fft   string
	cons  string
	fec   string
	guard string
}

func (m modParts) complete() bool {
	return m.mod != "" && m.fft != "" && m.cons != "" && m.fec != "" && m.guard != ""
}

func (m modParts) modulation() source.Modulation {
	if !m.complete() {
		return source.Modulation{}
	}
	return source.Modulation{Name: strings.Join([]string{m.mod, m.fft, m.cons, m.fec, m.guard}, " ")}
}

type identity struct {
	locked bool
	parts  modParts
}

type lineResult int

const (
	lineOK lineResult = iota
	lineFatal
)

// outputParser follows the receiver's terminal output.
type outputParser struct {
	band   source.Band
	status *source.Status
	logger *slog.Logger

	seen    map[string]bool
	running bool
	last    identity
	ref     identity
	counter uint64
}

func newOutputParser(band source.Band, status *source.Status, logger *slog.Logger) *outputParser {
	return &outputParser{band: band, status: status, logger: logger, seen: make(map[string]bool)}
}

// newRun clears startup progress. Lock identity and the counter persist.
func (p *outputParser) newRun() {
	clear(p.seen)
	p.running = false
	p.last.locked = false
}

func (p *outputParser) feed(raw string) lineResult {
	line := strings.TrimSpace(raw)
	result := p.classify(line)
	if p.last != p.ref {
		p.counter++
		p.ref = p.last
		mod := p.last.parts.modulation()
		p.status.Update(func(s *source.Snapshot) { s.Modulation = mod })
	}
	return result
}

func (p *outputParser) classify(line string) lineResult {
	switch {
	case strings.HasPrefix(line, "Failed to Init demod!"):
		return lineFatal
	case strings.HasSuffix(line, ",Err."):
		if strings.HasPrefix(line, scanFailLine) {
			return lineOK
		}
		return lineFatal
	case strings.HasPrefix(line, "locked"):
		p.last.locked = true
	case strings.HasPrefix(line, "Unlocked"):
		p.last.locked = false
		p.last.parts = modParts{}
	case strings.HasPrefix(line, "MOD"):
		v := colonValue(line)
		if slices.Contains(validMod, v) {
			p.last.parts.mod = v
			standard := source.StandardDVBT
			if v == "DVB-T2" {
				standard = source.StandardDVBT2
			}
			p.status.Update(func(s *source.Snapshot) { s.Standard = standard })
		} else {
			p.status.Update(func(s *source.Snapshot) { s.Standard = source.StandardNone })
		}
	case strings.HasPrefix(line, "FFT"):
		setIfValid(&p.last.parts.fft, colonValue(line), validFFT)
	case strings.HasPrefix(line, "Const"):
		setIfValid(&p.last.parts.cons, colonValue(line), validConst)
	case strings.HasPrefix(line, "FEC"):
		setIfValid(&p.last.parts.fec, colonValue(line), validFEC)
	case strings.HasPrefix(line, "Guard"):
		setIfValid(&p.last.parts.guard, colonValue(line), validGuard)
	case strings.HasPrefix(line, "SSI"):
		p.reading(line, func(s *source.Snapshot, v float64) { s.Level = source.NewMeter(v, "% SSI") })
	case strings.HasPrefix(line, "SQI"):
		p.reading(line, func(s *source.Snapshot, v float64) { setReading(s, "sqi", source.NewMeter(v, "%")) })
	case strings.HasPrefix(line, "SNR"):
		p.reading(line, func(s *source.Snapshot, v float64) { s.Quality = source.NewMeter(v, "dB SNR") })
	case strings.HasPrefix(line, "PER"):
		p.reading(line, func(s *source.Snapshot, v float64) { setReading(s, "per", source.NewMeter(v, "")) })
	case strings.HasPrefix(line, "[AVL_LockChannel_T] Freq is "):
		p.lockChannel(strings.TrimPrefix(line, "[AVL_LockChannel_T] "))
	default:
		p.milestone(line)
	}
	return lineOK
}

func (p *outputParser) milestone(line string) {
	matched := false
	for _, good := range startupLines {
		if strings.HasPrefix(line, good) {
			p.seen[good] = true
			matched = true
		}
	}
	if matched && len(p.seen) == len(startupLines) && !p.running {
		p.running = true
		p.logger.Info("receiver started", logging.String(logging.FieldEventType, "backend_running"))
	}
}

func (p *outputParser) reading(line string, apply func(*source.Snapshot, float64)) {
	_, raw, ok := strings.Cut(line, " is ")
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		p.logger.Debug("unparsable reading", logging.String("line", line))
		return
	}
	p.status.Update(func(s *source.Snapshot) { apply(s, v) })
}

// lockChannel parses "Freq is 474 MHz, Bandwidth is 8 MHz".
func (p *outputParser) lockChannel(fields string) {
	for _, part := range strings.Split(fields, ", ") {
		name, value, ok := strings.Cut(part, " is ")
		if !ok {
			continue
		}
		value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "MHz"))
		mhz, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		khz := int(mhz * 1000)
		switch name {
		case "Freq":
			freq := p.band.TuneToReq(khz)
			p.status.Update(func(s *source.Snapshot) { s.Freq = freq })
		case "Bandwidth":
			p.status.Update(func(s *source.Snapshot) { s.Bandwidth = source.NewMeter(float64(khz), "kHz") })
		}
	}
}

func colonValue(line string) string {
	_, v, ok := strings.Cut(line, ":")
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func setIfValid(dst *string, v string, valid []string) {
	if slices.Contains(valid, v) {
		*dst = v
	}
}

func setReading(s *source.Snapshot, key string, m source.Meter) {
	if s.Readings == nil {
		s.Readings = make(map[string]source.Meter)
	}
	s.Readings[key] = m
}
