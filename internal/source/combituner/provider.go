package combituner

import (
	"log/slog"
	"time"

	"dvbrx/internal/hardware"
	"dvbrx/internal/source"
	"dvbrx/internal/source/process"
)

// Tuner range and defaults in kHz.
const (
	TunerMinFreq     = 44000
	TunerMaxFreq     = 1002000
	DefaultFreq      = 474000
	DefaultBandwidth = 8000
	MinBandwidth     = 150
	MaxBandwidth     = 8000
)

// Options locates the receiver binary and its media pipe.
type Options struct {
	Binary    string
	MediaPath string
	Grace     time.Duration
}

// Provider registers the CombiTuner backend.
type Provider struct {
	opts     Options
	finder   hardware.Finder
	launcher process.Launcher
}

// NewProvider builds a provider. A nil launcher runs real processes.
func NewProvider(opts Options, finder hardware.Finder, launcher process.Launcher) *Provider {
	return &Provider{opts: opts, finder: finder, launcher: launcher}
}

// Kind implements source.Provider.
func (p *Provider) Kind() source.Kind { return source.KindCombiTuner }

// DefaultBand implements source.Provider.
func (p *Provider) DefaultBand() source.Band {
	return source.Band{Kind: source.KindCombiTuner, LOSide: source.LOSideLow}
}

// Profile implements source.Provider.
func (p *Provider) Profile(source.Band) source.Profile {
	return source.Profile{
		TunerMin: TunerMinFreq,
		TunerMax: TunerMaxFreq,
		Params: []source.ParamSpec{
			{
				Name:         source.ParamFreq,
				Label:        "Frequency",
				Units:        "kHz",
				Kind:         source.ParamInt,
				DefaultInts:  []int{DefaultFreq},
				FollowsTuner: true,
				Requires:     []string{source.ParamBandwidth},
			},
			{
				Name:        source.ParamBandwidth,
				Label:       "Bandwidth",
				Units:       "kHz",
				Kind:        source.ParamInt,
				DefaultInts: []int{DefaultBandwidth},
				Min:         MinBandwidth,
				Max:         MaxBandwidth,
				Requires:    []string{source.ParamFreq},
			},
		},
	}
}

// NewManager implements source.Provider.
func (p *Provider) NewManager(cfg *source.Config, logger *slog.Logger) (source.Manager, error) {
	return newManager(p.opts, cfg, p.finder, p.launcher, logger)
}
