package source

import (
	"fmt"
	"strings"
	"time"
)

// LOSide selects how the local oscillator offset combines with the requested frequency.
type LOSide int

const (
	// LOSideLow is a low-side oscillator: requested = lo + tuner.
	LOSideLow LOSide = iota
	// LOSideHigh is a high-side oscillator: requested = lo - tuner.
	LOSideHigh
	// LOSideSum is an up-converter: requested = tuner - lo.
	LOSideSum
)

func (s LOSide) String() string {
	switch s {
	case LOSideLow:
		return "low"
	case LOSideHigh:
		return "high"
	case LOSideSum:
		return "sum"
	default:
		return fmt.Sprintf("loside(%d)", int(s))
	}
}

// ParseLOSide parses "low", "high" or "sum".
func ParseLOSide(value string) (LOSide, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low", "":
		return LOSideLow, nil
	case "high":
		return LOSideHigh, nil
	case "sum":
		return LOSideSum, nil
	default:
		return LOSideLow, fmt.Errorf("unknown lo side %q", value)
	}
}

// Port selects the tuner RF input.
type Port int

const (
	PortTop Port = iota
	PortBottom
)

func (p Port) String() string {
	if p == PortBottom {
		return "bottom"
	}
	return "top"
}

// ParsePort parses "top" or "bottom".
func ParsePort(value string) (Port, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "top", "":
		return PortTop, nil
	case "bottom":
		return PortBottom, nil
	default:
		return PortTop, fmt.Errorf("unknown port %q", value)
	}
}

// Polarity selects the LNB supply voltage.
type Polarity int

const (
	PolarityNone Polarity = iota
	PolarityHorizontal
	PolarityVertical
)

func (p Polarity) String() string {
	switch p {
	case PolarityHorizontal:
		return "horizontal"
	case PolarityVertical:
		return "vertical"
	default:
		return "none"
	}
}

// ParsePolarity parses "none", "horizontal" or "vertical".
func ParsePolarity(value string) (Polarity, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "none", "":
		return PolarityNone, nil
	case "horizontal", "h":
		return PolarityHorizontal, nil
	case "vertical", "v":
		return PolarityVertical, nil
	default:
		return PolarityNone, fmt.Errorf("unknown polarity %q", value)
	}
}

// Band is a tuning profile. Bands are comparable so a library can be
// deduplicated with == or used as map keys.
type Band struct {
	Kind   Kind
	LOFreq int // kHz
	LOSide LOSide
	GPIOID int

	Port     Port
	Polarity Polarity

	Domain      string
	App         string
	Timeout     time.Duration
	InitTimeout time.Duration
}

// ReqToTune converts a requested frequency into the tuner frequency.
func (b Band) ReqToTune(freq int) int {
	switch b.LOSide {
	case LOSideHigh:
		return b.LOFreq - freq
	case LOSideSum:
		return freq + b.LOFreq
	default:
		return freq - b.LOFreq
	}
}

// TuneToReq converts a tuner frequency into the requested frequency.
func (b Band) TuneToReq(freq int) int {
	switch b.LOSide {
	case LOSideHigh:
		return b.LOFreq - freq
	case LOSideSum:
		return freq - b.LOFreq
	default:
		return b.LOFreq + freq
	}
}

// RequestRange maps a tuner range into requested frequencies, ordered low to high.
func (b Band) RequestRange(tunerMin, tunerMax int) (int, int) {
	lo := b.TuneToReq(tunerMin)
	hi := b.TuneToReq(tunerMax)
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}
