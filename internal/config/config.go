package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	LogDir     string `toml:"log_dir"`
	RuntimeDir string `toml:"runtime_dir"`
	Socket     string `toml:"socket"`
}

// Longmynd configures the DVB-S/S2 receiver backend.
type Longmynd struct {
	Binary     string `toml:"binary"`
	MediaPath  string `toml:"media_path"`
	StatusPath string `toml:"status_path"`
	TSTimeout  int    `toml:"ts_timeout"` // milliseconds
}

// CombiTuner configures the DVB-T/T2 receiver backend.
type CombiTuner struct {
	Binary    string `toml:"binary"`
	MediaPath string `toml:"media_path"`
}

// NetStream configures the network stream backend.
type NetStream struct {
	MediaPath string `toml:"media_path"`
}

// Watchdog contains restart backoff settings in seconds.
type Watchdog struct {
	MinRestart  float64 `toml:"min_restart"`
	MaxRestart  float64 `toml:"max_restart"`
	BackoffRate float64 `toml:"backoff_rate"`
}

// Heartbeat configures the liveness file.
type Heartbeat struct {
	Path     string `toml:"path"`
	Interval int    `toml:"interval"` // seconds
}

// Hardware configures USB tuner discovery.
type Hardware struct {
	SysfsRoot string `toml:"sysfs_root"`
	CacheTTL  int    `toml:"cache_ttl"` // seconds
	Hotplug   bool   `toml:"hotplug"`
}

// Playback configures how the media pipe is handed to a player.
type Playback struct {
	Autoplay bool   `toml:"autoplay"`
	Command  string `toml:"command"`
}

// MQTT configures the optional telemetry publisher.
type MQTT struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	QoS         int    `toml:"qos"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// KeepRuns is how many per-run daemon logs to retain; 0 keeps all.
	KeepRuns int `toml:"keep_runs"`
}

// Config encapsulates all configuration values for dvbrx.
//
// Configuration sections by subsystem:
//   - Paths: log directory, runtime directory and control socket
//   - Longmynd, CombiTuner, NetStream: backend binaries and pipes
//   - Watchdog: restart backoff
//   - Heartbeat: liveness file for an external supervisor
//   - Hardware: USB discovery and hotplug
//   - Playback: autoplay and player command
//   - MQTT: optional state publisher
//   - Logging: log format and level
//   - Bands, Presets, Default: the tuning library
type Config struct {
	Paths      Paths       `toml:"paths"`
	Longmynd   Longmynd    `toml:"longmynd"`
	CombiTuner CombiTuner  `toml:"combituner"`
	NetStream  NetStream   `toml:"netstream"`
	Watchdog   Watchdog    `toml:"watchdog"`
	Heartbeat  Heartbeat   `toml:"heartbeat"`
	Hardware   Hardware    `toml:"hardware"`
	Playback   Playback    `toml:"playback"`
	MQTT       MQTT        `toml:"mqtt"`
	Logging    Logging     `toml:"logging"`
	Bands      []BandEntry `toml:"bands"`
	Presets    []Preset    `toml:"presets"`
	Default    Tune        `toml:"default"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/dvbrx/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()
	// The band library is replaced, not merged, by the file's entries.
	library := cfg.Bands
	defaultTune := cfg.Default
	cfg.Bands = nil
	cfg.Default = Tune{}

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}
	if len(cfg.Bands) == 0 {
		cfg.Bands = library
		if cfg.Default.Band == "" {
			cfg.Default = defaultTune
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dvbrx.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir, c.Paths.RuntimeDir}
	for _, p := range []string{c.Longmynd.MediaPath, c.Longmynd.StatusPath, c.CombiTuner.MediaPath, c.NetStream.MediaPath, c.Heartbeat.Path} {
		if strings.TrimSpace(p) != "" {
			dirs = append(dirs, filepath.Dir(p))
		}
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the control socket location.
func (c *Config) SocketPath() string {
	if c.Paths.Socket != "" {
		return c.Paths.Socket
	}
	return filepath.Join(c.Paths.RuntimeDir, "dvbrx.sock")
}

// LockPath returns the daemon's single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "dvbrx.lock")
}

// PIDPath returns the file the daemon writes its process id to.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "dvbrx.pid")
}

// HeartbeatInterval returns the heartbeat touch period.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.Interval) * time.Second
}

// CacheTTL returns how long a USB scan result is reused.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Hardware.CacheTTL) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
