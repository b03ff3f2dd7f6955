package main

import (
	"fmt"
	"strings"

	"dvbrx/internal/config"
)

// configEnv names the variable consulted when no path argument is given.
const configEnv = "DVBRX_CONFIG"

// loadConfig resolves the config path from the first argument, then
// DVBRX_CONFIG, then the default search, and loads it.
func loadConfig(args []string, getenv func(string) string) (*config.Config, string, error) {
	if len(args) > 1 {
		return nil, "", fmt.Errorf("usage: dvbrxd [config.toml]")
	}
	path := ""
	if len(args) == 1 {
		path = strings.TrimSpace(args[0])
	} else if getenv != nil {
		path = strings.TrimSpace(getenv(configEnv))
	}
	cfg, resolved, _, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}
