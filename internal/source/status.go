package source

import (
	"fmt"
	"maps"
	"math"
)

// Codec identifies an elementary stream's coding.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecMPEG2
	CodecMPA
	CodecMP3
	CodecAAC
	CodecH263
	CodecH264
	CodecH265
)

func (c Codec) String() string {
	switch c {
	case CodecMPEG2:
		return "MPEG-2"
	case CodecMPA:
		return "MPA"
	case CodecMP3:
		return "MP3"
	case CodecAAC:
		return "AAC"
	case CodecH263:
		return "H.263"
	case CodecH264:
		return "H.264"
	case CodecH265:
		return "H.265"
	default:
		return "unknown"
	}
}

// CodecFromStreamType maps an MPEG transport stream type to a codec.
func CodecFromStreamType(streamType int) Codec {
	switch streamType {
	case 0x01, 0x02:
		return CodecMPEG2
	case 0x03, 0x04:
		return CodecMPA
	case 0x0f, 0x11:
		return CodecAAC
	case 0x1b:
		return CodecH264
	case 0x24:
		return CodecH265
	default:
		return CodecUnknown
	}
}

// Standard is the broadcast standard of the current signal.
type Standard int

const (
	StandardNone Standard = iota
	StandardDVBS
	StandardDVBS2
	StandardDVBT
	StandardDVBT2
	StandardStream
)

func (s Standard) String() string {
	switch s {
	case StandardDVBS:
		return "DVB-S"
	case StandardDVBS2:
		return "DVB-S2"
	case StandardDVBT:
		return "DVB-T"
	case StandardDVBT2:
		return "DVB-T2"
	case StandardStream:
		return "stream"
	default:
		return ""
	}
}

// Modulation describes the current modulation and coding. Threshold is the
// quality (MER) needed to decode it, when known.
type Modulation struct {
	Name         string
	Threshold    float64
	HasThreshold bool
}

// Meter is an optional numeric reading.
type Meter struct {
	Value float64
	Unit  string
	Valid bool
}

// NewMeter returns a valid reading.
func NewMeter(value float64, unit string) Meter {
	return Meter{Value: value, Unit: unit, Valid: true}
}

func (m Meter) String() string {
	if !m.Valid {
		return "-"
	}
	if m.Unit == "" {
		return fmt.Sprintf("%g", m.Value)
	}
	return fmt.Sprintf("%g %s", m.Value, m.Unit)
}

// Snapshot is a value copy of backend telemetry.
type Snapshot struct {
	Kind       Kind
	Standard   Standard
	Modulation Modulation
	// Freq is the measured frequency mapped back into requested kHz.
	Freq       int
	SymbolRate Meter
	Bandwidth  Meter
	// Quality is the primary signal quality reading (MER or SNR).
	Quality  Meter
	Level    Meter
	Provider string
	Service  string
	// Streams maps elementary stream ids to codecs.
	Streams map[int]Codec
	// Readings holds backend-specific extras such as AGC or PER.
	Readings map[string]Meter
}

// Clone returns a copy that shares no maps with s.
func (s Snapshot) Clone() Snapshot {
	s.Streams = maps.Clone(s.Streams)
	s.Readings = maps.Clone(s.Readings)
	return s
}

// Equal reports whether two snapshots hold the same telemetry.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Kind == o.Kind &&
		s.Standard == o.Standard &&
		s.Modulation == o.Modulation &&
		s.Freq == o.Freq &&
		s.SymbolRate == o.SymbolRate &&
		s.Bandwidth == o.Bandwidth &&
		s.Quality == o.Quality &&
		s.Level == o.Level &&
		s.Provider == o.Provider &&
		s.Service == o.Service &&
		maps.Equal(s.Streams, o.Streams) &&
		maps.Equal(s.Readings, o.Readings)
}

// Margin is the quality above the current modulation's decode threshold,
// rounded to one decimal.
func (s Snapshot) Margin() (float64, bool) {
	if !s.Quality.Valid || !s.Modulation.HasThreshold {
		return 0, false
	}
	return math.Round((s.Quality.Value-s.Modulation.Threshold)*10) / 10, true
}

// StatusObserver receives a copy of the status after each change.
type StatusObserver func(Snapshot)

// Subscription identifies a status observer.
type Subscription uint64

type statusEntry struct {
	id Subscription
	fn StatusObserver
}

// Status is a mutable telemetry record with a single change notification
// per update. Observers belong to the goroutine that owns the Status.
type Status struct {
	snap      Snapshot
	next      Subscription
	observers []statusEntry
}

// NewStatus returns an empty status for a source kind.
func NewStatus(kind Kind) *Status {
	return &Status{snap: Snapshot{Kind: kind}}
}

// Snapshot returns a copy of the current telemetry.
func (s *Status) Snapshot() Snapshot {
	return s.snap.Clone()
}

// Update applies fn to a working copy and commits it, firing observers once
// if anything changed.
func (s *Status) Update(fn func(*Snapshot)) bool {
	work := s.snap.Clone()
	fn(&work)
	if work.Equal(s.snap) {
		return false
	}
	s.snap = work
	s.fire()
	return true
}

// SyncTo replaces the telemetry with from, firing observers once if it differs.
func (s *Status) SyncTo(from Snapshot) bool {
	if from.Equal(s.snap) {
		return false
	}
	s.snap = from.Clone()
	s.fire()
	return true
}

// Reset clears telemetry back to an empty record for kind.
func (s *Status) Reset(kind Kind) bool {
	return s.SyncTo(Snapshot{Kind: kind})
}

// OnChange registers an observer.
func (s *Status) OnChange(fn StatusObserver) Subscription {
	s.next++
	s.observers = append(s.observers, statusEntry{id: s.next, fn: fn})
	return s.next
}

// Unsubscribe removes an observer.
func (s *Status) Unsubscribe(id Subscription) {
	for i, entry := range s.observers {
		if entry.id == id {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

// Observers returns the number of registered observers.
func (s *Status) Observers() int {
	return len(s.observers)
}

func (s *Status) fire() {
	entries := append([]statusEntry(nil), s.observers...)
	for _, entry := range entries {
		entry.fn(s.snap.Clone())
	}
}
