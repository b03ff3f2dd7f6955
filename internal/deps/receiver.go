package deps

import (
	"strings"

	"dvbrx/internal/config"
)

// Requirements lists the external binaries the receiver backends and the
// playback command rely on. A backend is optional when no band in the
// library selects it.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	used := bandSources(cfg)
	reqs := []Requirement{
		{
			Name:        "longmynd",
			Command:     cfg.Longmynd.Binary,
			Description: "DVB-S/S2 receiver for MiniTiouner hardware",
			Optional:    !used["longmynd"],
		},
		{
			Name:        "CombiTunerExpress",
			Command:     cfg.CombiTuner.Binary,
			Description: "DVB-T/T2 receiver for CombiTuner hardware",
			Optional:    !used["combituner"],
		},
	}
	if player := playerBinary(cfg.Playback.Command); player != "" {
		reqs = append(reqs, Requirement{
			Name:        "Player",
			Command:     player,
			Description: "Plays the received transport stream",
			Optional:    !cfg.Playback.Autoplay,
		})
	}
	return reqs
}

// Check evaluates Requirements for cfg.
func Check(cfg *config.Config) []Status {
	return CheckBinaries(Requirements(cfg))
}

func bandSources(cfg *config.Config) map[string]bool {
	used := make(map[string]bool, len(cfg.Bands))
	for _, band := range cfg.Bands {
		used[strings.ToLower(strings.TrimSpace(band.Source))] = true
	}
	return used
}

func playerBinary(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
