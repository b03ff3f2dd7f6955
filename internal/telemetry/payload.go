package telemetry

import (
	"maps"
	"slices"
	"strconv"
	"time"

	"dvbrx/internal/source"
)

type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

type statePayload struct {
	Kind      string `json:"kind"`
	Started   bool   `json:"started"`
	Running   bool   `json:"running"`
	Locked    bool   `json:"locked"`
	Counter   uint64 `json:"counter"`
	Timestamp string `json:"timestamp"`
}

type signalPayload struct {
	Kind       string             `json:"kind"`
	Standard   string             `json:"standard,omitempty"`
	Modulation string             `json:"modulation,omitempty"`
	Freq       int                `json:"freq_khz,omitempty"`
	SymbolRate *float64           `json:"symbol_rate,omitempty"`
	Bandwidth  *float64           `json:"bandwidth,omitempty"`
	Quality    *float64           `json:"quality,omitempty"`
	Margin     *float64           `json:"margin,omitempty"`
	Level      *float64           `json:"level,omitempty"`
	Provider   string             `json:"provider,omitempty"`
	Service    string             `json:"service,omitempty"`
	Streams    map[string]string  `json:"streams,omitempty"`
	Readings   map[string]float64 `json:"readings,omitempty"`
	Timestamp  string             `json:"timestamp"`
}

type bandPayload struct {
	Kind   string `json:"kind"`
	LOFreq int    `json:"lo_freq"`
	LOSide string `json:"lo_side"`
	GPIO   int    `json:"gpio"`
	Domain string `json:"domain,omitempty"`
	App    string `json:"app,omitempty"`
}

func timestamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339)
}

func newStatePayload(kind source.Kind, state source.CoreState, now time.Time) statePayload {
	return statePayload{
		Kind:      string(kind),
		Started:   state.Started,
		Running:   state.Running,
		Locked:    state.Locked,
		Counter:   state.Counter,
		Timestamp: timestamp(now),
	}
}

func newSignalPayload(kind source.Kind, snap source.Snapshot, now time.Time) signalPayload {
	p := signalPayload{
		Kind:       string(kind),
		Standard:   snap.Standard.String(),
		Modulation: snap.Modulation.Name,
		Freq:       snap.Freq,
		SymbolRate: meter(snap.SymbolRate),
		Bandwidth:  meter(snap.Bandwidth),
		Quality:    meter(snap.Quality),
		Level:      meter(snap.Level),
		Provider:   snap.Provider,
		Service:    snap.Service,
		Timestamp:  timestamp(now),
	}
	if margin, ok := snap.Margin(); ok {
		p.Margin = &margin
	}
	if len(snap.Streams) > 0 {
		p.Streams = make(map[string]string, len(snap.Streams))
		for _, id := range slices.Sorted(maps.Keys(snap.Streams)) {
			p.Streams[strconv.Itoa(id)] = snap.Streams[id].String()
		}
	}
	for name, m := range snap.Readings {
		if !m.Valid {
			continue
		}
		if p.Readings == nil {
			p.Readings = make(map[string]float64)
		}
		p.Readings[name] = m.Value
	}
	return p
}

func newBandPayload(band source.Band) bandPayload {
	return bandPayload{
		Kind:   string(band.Kind),
		LOFreq: band.LOFreq,
		LOSide: band.LOSide.String(),
		GPIO:   band.GPIOID,
		Domain: band.Domain,
		App:    band.App,
	}
}

func meter(m source.Meter) *float64 {
	if !m.Valid {
		return nil
	}
	v := m.Value
	return &v
}
