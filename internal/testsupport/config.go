package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"dvbrx/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Hotplug and MQTT are off and the library holds one band per tuner backend.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.RuntimeDir = filepath.Join(base, "run")
	cfgVal.Paths.Socket = ""
	cfgVal.Longmynd.MediaPath = filepath.Join(base, "run", "longmynd.ts")
	cfgVal.Longmynd.StatusPath = filepath.Join(base, "run", "longmynd.status")
	cfgVal.CombiTuner.MediaPath = filepath.Join(base, "run", "combituner.ts")
	cfgVal.NetStream.MediaPath = filepath.Join(base, "run", "netstream.flv")
	cfgVal.Heartbeat.Path = filepath.Join(base, "run", "heartbeat")
	cfgVal.Hardware.SysfsRoot = filepath.Join(base, "sys")
	cfgVal.Hardware.Hotplug = false
	cfgVal.MQTT.Enabled = false
	cfgVal.Playback.Command = ""
	cfgVal.Bands = []config.BandEntry{
		{Name: "Direct", Source: "longmynd", LOSide: "low"},
		{Name: "Terrestrial", Source: "combituner", LOSide: "low"},
	}
	cfgVal.Presets = nil
	cfgVal.Default = config.Tune{}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithBands replaces the band library.
func WithBands(entries ...config.BandEntry) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Bands = entries
	}
}

// WithPresets sets the preset list.
func WithPresets(presets ...config.Preset) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Presets = presets
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the receiver backends are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{b.cfg.Longmynd.Binary, b.cfg.CombiTuner.Binary}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, filepath.Base(name))
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
