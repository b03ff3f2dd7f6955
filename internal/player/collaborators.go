package player

import "dvbrx/internal/source"

// Playback renders the media handle. Implementations are called only from
// the player loop.
type Playback interface {
	Play(media source.Media) error
	Stop() error
	Playing() bool
}

// Indicator reflects receiver state on hardware or remote dashboards.
type Indicator interface {
	SetRXGood(good bool)
	SelectBand(band source.Band)
}

// StateSink receives every core-state or status change.
type StateSink interface {
	PublishState(kind source.Kind, state source.CoreState, snap source.Snapshot)
}

type nopPlayback struct{}

func (nopPlayback) Play(source.Media) error { return nil }
func (nopPlayback) Stop() error             { return nil }
func (nopPlayback) Playing() bool           { return false }
