package ipc

import (
	"maps"
	"slices"
	"strconv"
	"time"

	"dvbrx/internal/config"
	"dvbrx/internal/daemon"
	"dvbrx/internal/deps"
	"dvbrx/internal/player"
	"dvbrx/internal/source"
)

// FromBand converts a source band to its wire form.
func FromBand(name string, band source.Band) Band {
	out := Band{
		Name:   name,
		Source: string(band.Kind),
		LOFreq: band.LOFreq,
		LOSide: band.LOSide.String(),
		GPIO:   band.GPIOID,
		Domain: band.Domain,
		App:    band.App,
	}
	switch band.Kind {
	case source.KindLongmynd:
		out.Port = band.Port.String()
		out.Polarity = band.Polarity.String()
	case source.KindNetStream:
		out.Timeout = int(band.Timeout / time.Second)
		out.InitTimeout = int(band.InitTimeout / time.Second)
	}
	return out
}

// FromReport converts a player report to its wire form.
func FromReport(r player.Report) Receiver {
	return Receiver{
		Source: string(r.Kind),
		Band:   FromBand("", r.Band),
		Values: maps.Clone(r.Values),
		Valid:  r.Valid,
		State: CoreState{
			Started: r.State.Started,
			Running: r.State.Running,
			Locked:  r.State.Locked,
			Counter: r.State.Counter,
		},
		Signal:          FromSnapshot(r.Status),
		Media:           r.Media.Path,
		Container:       r.Media.Container,
		Playing:         r.Playing,
		Autoplay:        r.Autoplay,
		WatchdogPending: r.Watchdog.Pending,
		WatchdogDelayMS: millis(r.Watchdog.Delay),
	}
}

// FromSnapshot converts a status snapshot to its wire form.
func FromSnapshot(snap source.Snapshot) Signal {
	sig := Signal{
		Modulation: snap.Modulation.Name,
		FreqKHz:    snap.Freq,
		SymbolRate: reading(snap.SymbolRate),
		Bandwidth:  reading(snap.Bandwidth),
		Quality:    reading(snap.Quality),
		Level:      reading(snap.Level),
		Provider:   snap.Provider,
		Service:    snap.Service,
	}
	if snap.Standard != source.StandardNone {
		sig.Standard = snap.Standard.String()
	}
	if margin, ok := snap.Margin(); ok {
		sig.Margin = &margin
	}
	if len(snap.Streams) > 0 {
		sig.Streams = make(map[string]string, len(snap.Streams))
		for _, id := range slices.Sorted(maps.Keys(snap.Streams)) {
			sig.Streams[strconv.Itoa(id)] = snap.Streams[id].String()
		}
	}
	for name, m := range snap.Readings {
		r := reading(m)
		if r == nil {
			continue
		}
		if sig.Readings == nil {
			sig.Readings = make(map[string]Reading)
		}
		sig.Readings[name] = *r
	}
	return sig
}

func reading(m source.Meter) *Reading {
	if !m.Valid {
		return nil
	}
	return &Reading{Value: m.Value, Unit: m.Unit}
}

func fromLibrary(bands []config.NamedBand) []Band {
	out := make([]Band, 0, len(bands))
	for _, nb := range bands {
		out = append(out, FromBand(nb.Name, nb.Band))
	}
	return out
}

// FromDependencies converts dependency checks and assigns severities.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]DependencyStatus, 0, len(statuses))
	for _, dep := range statuses {
		severity := "ok"
		if !dep.Available {
			severity = "error"
			if dep.Optional {
				severity = "warn"
			}
		}
		out = append(out, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
			Severity:    severity,
		})
	}
	return out
}

func fromStatus(status daemon.Status) StatusResponse {
	resp := StatusResponse{
		Running:      status.Running,
		PID:          status.PID,
		LockPath:     status.LockFilePath,
		LogPath:      status.LogPath,
		RunID:        status.RunID,
		Hotplug:      status.Hotplug,
		Dependencies: FromDependencies(status.Dependencies),
	}
	if status.Receiver != nil {
		rx := FromReport(*status.Receiver)
		resp.Receiver = &rx
	}
	if len(status.EventCounts) > 0 {
		resp.EventCounts = make(map[string]int, len(status.EventCounts))
		for kind, n := range status.EventCounts {
			resp.EventCounts[string(kind)] = n
		}
	}
	return resp
}
