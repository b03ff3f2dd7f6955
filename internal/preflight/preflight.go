package preflight

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"dvbrx/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Log and runtime directories (always checked)
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckDirectoryAccess("Runtime directory", cfg.Paths.RuntimeDir))

	for _, dir := range pipeDirs(cfg) {
		if dir == cfg.Paths.RuntimeDir {
			continue
		}
		results = append(results, CheckDirectoryAccess("Pipe directory", dir))
	}

	results = append(results, CheckSysfs(cfg.Hardware.SysfsRoot))

	if cfg.MQTT.Enabled {
		results = append(results, CheckBroker(ctx, cfg.MQTT.Broker))
	}

	return results
}

// pipeDirs lists the distinct directories holding backend pipes and files.
func pipeDirs(cfg *config.Config) []string {
	var dirs []string
	for _, p := range []string{cfg.Longmynd.MediaPath, cfg.Longmynd.StatusPath, cfg.CombiTuner.MediaPath, cfg.NetStream.MediaPath} {
		if strings.TrimSpace(p) == "" {
			continue
		}
		dir := filepath.Dir(p)
		if !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
