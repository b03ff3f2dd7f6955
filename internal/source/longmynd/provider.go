package longmynd

import (
	"log/slog"
	"time"

	"dvbrx/internal/hardware"
	"dvbrx/internal/source"
	"dvbrx/internal/source/process"
)

// Tuner range and defaults in kHz / kS.
const (
	TunerMinFreq      = 144000
	TunerMaxFreq      = 2450000
	DefaultFreq       = 741500
	DefaultSymbolRate = 1500
	MinSymbolRate     = 33
	MaxSymbolRate     = 27500
)

// Options locates the receiver binary and its pipes.
type Options struct {
	Binary     string
	MediaPath  string
	StatusPath string
	// TSTimeout is the receiver's transport stream timeout in milliseconds.
	TSTimeout int
	Grace     time.Duration
}

// Provider registers the longmynd backend.
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
func (p *Provider) Kind() source.Kind { return source.KindLongmynd }

// DefaultBand implements source.Provider.
func (p *Provider) DefaultBand() source.Band {
	return source.Band{Kind: source.KindLongmynd, LOSide: source.LOSideLow}
}

// Profile implements source.Provider. Frequency and symbol rate are scan
// lists and must be supplied together.
func (p *Provider) Profile(source.Band) source.Profile {
	return source.Profile{
		TunerMin: TunerMinFreq,
		TunerMax: TunerMaxFreq,
		Params: []source.ParamSpec{
			{
				Name:         source.ParamFreq,
				Label:        "Frequency",
				Units:        "kHz",
				Kind:         source.ParamIntList,
				DefaultInts:  []int{DefaultFreq},
				FollowsTuner: true,
				Requires:     []string{source.ParamSymbolRate},
			},
			{
				Name:        source.ParamSymbolRate,
				Label:       "Symbol Rate",
				Units:       "kS",
				Kind:        source.ParamIntList,
				DefaultInts: []int{DefaultSymbolRate},
				Min:         MinSymbolRate,
				Max:         MaxSymbolRate,
				Requires:    []string{source.ParamFreq},
			},
		},
	}
}

// NewManager implements source.Provider.
func (p *Provider) NewManager(cfg *source.Config, logger *slog.Logger) (source.Manager, error) {
	return newManager(p.opts, cfg, p.finder, p.launcher, logger)
}
