package longmynd

import (
	"log/slog"
	"maps"
	"strconv"
	"strings"

	"dvbrx/internal/logging"
	"dvbrx/internal/source"
)

// Status FIFO message types.
const (
	msgState      = 1
	msgFreq       = 6
	msgSymbolRate = 9
	msgMER        = 12
	msgProvider   = 13
	msgService    = 14
	msgStreamPID  = 16
	msgStreamType = 17
	msgModcode    = 18
	msgAGC1       = 26
	msgAGC2       = 27
)

// Receiver states reported by msgState.
const (
	stateLockedDVBS  = 3
	stateLockedDVBS2 = 4
)

// signalIdentity is what a "locked" means: when it changes, downstream
// consumers should treat the signal as new.
type signalIdentity struct {
	state      int
	hasState   bool
	provider   string
	service    string
	modcode    int
	hasModcode bool
	streams    map[int]source.Codec
}

func (s signalIdentity) equal(o signalIdentity) bool {
	return s.state == o.state && s.hasState == o.hasState &&
		s.provider == o.provider && s.service == o.service &&
		s.modcode == o.modcode && s.hasModcode == o.hasModcode &&
		maps.Equal(s.streams, o.streams)
}

func (s signalIdentity) clone() signalIdentity {
	s.streams = maps.Clone(s.streams)
	return s
}

// pairAccumulator joins elementary stream PID and type messages, which
// arrive separately and in either order, into a stream map.
type pairAccumulator struct {
	active  bool
	fault   bool
	pid     int
	hasPID  bool
	typ     int
	hasType bool
	streams map[int]source.Codec
}

// addPID records a PID. It reports false when the slot was already filled.
func (a *pairAccumulator) addPID(pid int) bool {
	a.active = true
	if a.hasPID {
		a.discardPair()
		return false
	}
	a.pid, a.hasPID = pid, true
	a.completePair()
	return true
}

// addType records a stream type. It reports false when the slot was already filled.
func (a *pairAccumulator) addType(typ int) bool {
	a.active = true
	if a.hasType {
		a.discardPair()
		return false
	}
	a.typ, a.hasType = typ, true
	a.completePair()
	return true
}

func (a *pairAccumulator) completePair() {
	if !a.hasPID || !a.hasType {
		return
	}
	if a.streams == nil {
		a.streams = make(map[int]source.Codec)
	}
	a.streams[a.pid] = source.CodecFromStreamType(a.typ)
	a.hasPID, a.hasType = false, false
}

func (a *pairAccumulator) discardPair() {
	a.fault = true
	a.hasPID, a.hasType = false, false
}

// take ends the current run. ok is false when no run was in progress; a
// faulted run yields an empty map.
func (a *pairAccumulator) take() (streams map[int]source.Codec, ok bool) {
	if !a.active {
		return nil, false
	}
	streams = a.streams
	if a.fault || streams == nil {
		streams = map[int]source.Codec{}
	}
	*a = pairAccumulator{}
	return streams, true
}

// statusParser folds status FIFO messages into Status and the lock counter.
type statusParser struct {
	band     source.Band
	status   *source.Status
	logger   *slog.Logger
	standard source.Standard
	agc1     int
	agc2     int
	hasAGC   [2]bool

	pairs    pairAccumulator
	last     signalIdentity
	ref      signalIdentity
	counter  uint64
	received bool
}

func newStatusParser(band source.Band, status *source.Status, logger *slog.Logger) *statusParser {
	return &statusParser{band: band, status: status, logger: logger}
}

// newRun clears per-run state. The counter and identity survive restarts.
func (p *statusParser) newRun() {
	p.received = false
	p.pairs = pairAccumulator{}
}

func (p *statusParser) locked() bool {
	return p.last.hasState && (p.last.state == stateLockedDVBS || p.last.state == stateLockedDVBS2)
}

// handleLine processes one status line. The counter advances at most once
// per line.
func (p *statusParser) handleLine(line string) {
	p.received = true
	if !strings.HasPrefix(line, "$") {
		return
	}
	rawType, value, ok := strings.Cut(strings.TrimRight(line[1:], "\r\n "), ",")
	if !ok {
		p.logger.Debug("malformed status line", logging.String("line", line))
		return
	}
	code, err := strconv.Atoi(rawType)
	if err != nil {
		p.logger.Debug("malformed status type", logging.String("line", line))
		return
	}
	p.handle(code, value)
	if !p.last.equal(p.ref) {
		p.counter++
		p.ref = p.last.clone()
	}
}

func (p *statusParser) handle(code int, value string) {
	switch code {
	case msgStreamPID, msgStreamType:
		n, err := strconv.Atoi(value)
		if err != nil {
			return
		}
		var ok bool
		if code == msgStreamPID {
			ok = p.pairs.addPID(n)
		} else {
			ok = p.pairs.addType(n)
		}
		if !ok {
			logging.WarnWithContext(p.logger, "stream pair out of sequence", "stream_pair_fault",
				logging.Int("type", code),
				logging.Int("value", n),
				logging.String(logging.FieldErrorHint, "receiver sent two stream messages of the same kind"),
				logging.String(logging.FieldImpact, "stream list discarded until the next update"),
			)
		}
		return
	}

	if streams, ok := p.pairs.take(); ok {
		p.last.streams = streams
		p.status.Update(func(s *source.Snapshot) { s.Streams = maps.Clone(streams) })
	}

	switch code {
	case msgState:
		if n, err := strconv.Atoi(value); err == nil {
			p.handleState(n)
		}
	case msgFreq:
		if n, err := strconv.Atoi(value); err == nil {
			p.status.Update(func(s *source.Snapshot) { s.Freq = p.band.TuneToReq(n) })
		}
	case msgSymbolRate:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			p.status.Update(func(s *source.Snapshot) { s.SymbolRate = source.NewMeter(f/1000, "kS") })
		}
	case msgMER:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			p.status.Update(func(s *source.Snapshot) { s.Quality = source.NewMeter(f/10, "dB MER") })
		}
	case msgProvider:
		p.last.provider = value
		p.status.Update(func(s *source.Snapshot) { s.Provider = value })
	case msgService:
		p.last.service = value
		p.status.Update(func(s *source.Snapshot) { s.Service = value })
	case msgModcode:
		if n, err := strconv.Atoi(value); err == nil {
			p.last.modcode, p.last.hasModcode = n, true
			mod, _ := lookupModulation(p.standard, n)
			p.status.Update(func(s *source.Snapshot) { s.Modulation = mod })
		}
	case msgAGC1, msgAGC2:
		if n, err := strconv.Atoi(value); err == nil {
			p.handleAGC(code, n)
		}
	}
}

func (p *statusParser) handleState(state int) {
	switch state {
	case stateLockedDVBS:
		p.standard = source.StandardDVBS
	case stateLockedDVBS2:
		p.standard = source.StandardDVBS2
	default:
		p.standard = source.StandardNone
	}
	p.last.state, p.last.hasState = state, true
	standard := p.standard
	if state < stateLockedDVBS {
		p.last.provider = ""
		p.last.service = ""
		p.last.modcode, p.last.hasModcode = 0, false
		p.last.streams = nil
		p.status.Update(func(s *source.Snapshot) {
			s.Standard = standard
			s.Provider = ""
			s.Service = ""
			s.Modulation = source.Modulation{}
			s.Streams = nil
		})
		return
	}
	p.status.Update(func(s *source.Snapshot) { s.Standard = standard })
}

func (p *statusParser) handleAGC(code, value int) {
	if code == msgAGC1 {
		p.agc1, p.hasAGC[0] = value, true
	} else {
		p.agc2, p.hasAGC[1] = value, true
	}
	agc1, agc2 := p.agc1, p.agc2
	level := source.Meter{}
	if p.hasAGC[0] && p.hasAGC[1] {
		level = source.NewMeter(float64(powerLevel(agc1, agc2)), "dBm")
	}
	p.status.Update(func(s *source.Snapshot) {
		if s.Readings == nil {
			s.Readings = make(map[string]source.Meter)
		}
		s.Readings["agc1"] = source.NewMeter(float64(agc1), "")
		s.Readings["agc2"] = source.NewMeter(float64(agc2), "")
		s.Level = level
	})
}
