package sources

import (
	"fmt"

	"dvbrx/internal/config"
	"dvbrx/internal/hardware"
	"dvbrx/internal/source"
	"dvbrx/internal/source/combituner"
	"dvbrx/internal/source/longmynd"
	"dvbrx/internal/source/netstream"
	"dvbrx/internal/source/process"
)

// Build registers every backend. A nil launcher runs real processes.
func Build(cfg *config.Config, finder hardware.Finder, launcher process.Launcher) (*source.Registry, error) {
	return source.NewRegistry(
		longmynd.NewProvider(longmynd.Options{
			Binary:     cfg.Longmynd.Binary,
			MediaPath:  cfg.Longmynd.MediaPath,
			StatusPath: cfg.Longmynd.StatusPath,
			TSTimeout:  cfg.Longmynd.TSTimeout,
		}, finder, launcher),
		combituner.NewProvider(combituner.Options{
			Binary:    cfg.CombiTuner.Binary,
			MediaPath: cfg.CombiTuner.MediaPath,
		}, finder, launcher),
		netstream.NewProvider(netstream.Options{
			MediaPath: cfg.NetStream.MediaPath,
		}),
	)
}

// Tune builds a config for band with values applied. When current is on the
// same kind its values carry over before the request is applied; values whose
// prerequisites are missing from the request are skipped.
func Tune(reg *source.Registry, current *source.Config, band source.Band, values map[string]source.ParamValue) (*source.Config, error) {
	var cfg *source.Config
	if current != nil && current.Kind() == band.Kind {
		cfg = current.Clone()
		if err := reg.Rebind(cfg, band); err != nil {
			cfg.Release()
			return nil, err
		}
	} else {
		var err error
		if cfg, err = reg.NewConfig(band); err != nil {
			return nil, err
		}
	}
	if err := cfg.Apply(values); err != nil {
		cfg.Release()
		return nil, fmt.Errorf("apply tune: %w", err)
	}
	return cfg, nil
}

// Initial resolves the configured start-up tune. With no default it falls
// back to the first library band, then to the longmynd default band.
func Initial(reg *source.Registry, cfg *config.Config) (*source.Config, error) {
	if cfg.Default.Band != "" {
		band, values, err := cfg.ResolveTune(cfg.Default)
		if err != nil {
			return nil, err
		}
		return Tune(reg, nil, band, values)
	}
	lib, err := cfg.Library()
	if err != nil {
		return nil, err
	}
	if len(lib) > 0 {
		return reg.NewConfig(lib[0].Band)
	}
	return reg.DefaultConfig(source.KindLongmynd)
}
