package longmynd

import "strings"

// lnaErrorTolerance is how many i2c errors an amplifier probe may log.
const lnaErrorTolerance = 1

var lnaFoundLines = []string{"found new NIM with LNAs", "found an older NIM with no LNA"}

type lineResult int

const (
	lineOK lineResult = iota
	lineFatal
	lineAutoReset
)

// startupTracker follows the receiver's diagnostic output. It latches ready
// once every startup milestone has been seen and classifies error lines.
type startupTracker struct {
	fifos    int
	amps     int
	usb      bool
	demod    bool
	tuner    bool
	ready    bool
	lnaInit  bool
	lnaErrs  int
	resetSeq int
}

func (t *startupTracker) reset() {
	*t = startupTracker{}
}

// feed classifies one output line.
func (t *startupTracker) feed(line string) lineResult {
	if t.resetSeq > 0 {
		return t.continueReset(line)
	}

	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "ERROR:"):
		return t.classifyError(line)
	case strings.HasPrefix(trimmed, "Flow:"):
		flow := strings.TrimSpace(strings.TrimPrefix(trimmed, "Flow:"))
		if strings.HasPrefix(flow, "LNA init") {
			t.lnaInit = true
			t.lnaErrs = 0
		}
	case strings.HasPrefix(trimmed, "Status:"):
		return t.milestone(strings.TrimSpace(strings.TrimPrefix(trimmed, "Status:")))
	}
	return lineOK
}

func (t *startupTracker) classifyError(line string) lineResult {
	switch {
	case t.lnaInit && strings.HasPrefix(line, "ERROR: i2c read reg8"):
		t.lnaErrs++
		return lineOK
	case t.lnaInit && strings.HasPrefix(line, "ERROR: lna read"):
		return lineOK
	case strings.HasPrefix(line, "ERROR: tuner wait on lock timed out"):
		t.resetSeq = 1
		return lineOK
	case strings.HasPrefix(line, "ERROR: Tuner set freq"):
		t.resetSeq = 2
		return lineOK
	}
	return lineFatal
}

// continueReset matches the tuner's internal recovery: a frequency set
// failure, a tuner init failure, then a lock-timeout notice that still
// has attempts remaining. Anything else is fatal.
func (t *startupTracker) continueReset(line string) lineResult {
	step := t.resetSeq
	t.resetSeq = 0
	switch {
	case step == 1 && strings.HasPrefix(line, "ERROR: Tuner set freq"):
		t.resetSeq = 2
		return lineOK
	case step == 2 && strings.HasPrefix(line, "ERROR: Failed to init Tuner"):
		t.resetSeq = 3
		return lineOK
	case step == 3 && strings.HasPrefix(line, "Flow: Caught tuner lock timeout,"):
		if strings.Contains(line, "attempts at stv6120_init() remaining") {
			return lineAutoReset
		}
	}
	return lineFatal
}

func (t *startupTracker) milestone(status string) lineResult {
	switch {
	case isLNAFound(status):
		tooMany := t.lnaInit && t.lnaErrs > lnaErrorTolerance
		t.lnaInit = false
		t.lnaErrs = 0
		if tooMany {
			return lineFatal
		}
		t.amps++
	case status == "opened fifo ok":
		t.fifos++
	case strings.HasPrefix(status, "MPSSE"):
		t.usb = true
	case strings.HasPrefix(status, "STV0910 MID"):
		t.demod = true
	case strings.HasPrefix(status, "tuner:"):
		t.tuner = true
	}
	if t.fifos >= 2 && t.usb && t.demod && t.tuner && t.amps >= 2 {
		t.ready = true
	}
	return lineOK
}

func isLNAFound(status string) bool {
	for _, l := range lnaFoundLines {
		if status == l {
			return true
		}
	}
	return false
}
