package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackends(); err != nil {
		return err
	}
	if err := c.validateWatchdog(); err != nil {
		return err
	}
	if err := c.validateMQTT(); err != nil {
		return err
	}
	if err := c.validateLibrary(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBackends() error {
	if err := ensurePositiveMap(map[string]int{
		"longmynd.ts_timeout": c.Longmynd.TSTimeout,
		"heartbeat.interval":  c.Heartbeat.Interval,
	}); err != nil {
		return err
	}
	if c.Hardware.CacheTTL < 0 {
		return errors.New("hardware.cache_ttl must be >= 0")
	}
	if c.Logging.KeepRuns < 0 {
		return errors.New("logging.keep_runs must be >= 0")
	}
	paths := map[string]string{
		"longmynd.media_path":   c.Longmynd.MediaPath,
		"longmynd.status_path":  c.Longmynd.StatusPath,
		"combituner.media_path": c.CombiTuner.MediaPath,
		"netstream.media_path":  c.NetStream.MediaPath,
	}
	seen := make(map[string]string, len(paths))
	for _, key := range []string{"longmynd.media_path", "longmynd.status_path", "combituner.media_path", "netstream.media_path"} {
		if other, dup := seen[paths[key]]; dup {
			return fmt.Errorf("%s must differ from %s", key, other)
		}
		seen[paths[key]] = key
	}
	return nil
}

func (c *Config) validateWatchdog() error {
	if c.Watchdog.MinRestart <= 0 {
		return errors.New("watchdog.min_restart must be positive")
	}
	if c.Watchdog.MaxRestart < c.Watchdog.MinRestart {
		return errors.New("watchdog.max_restart must be >= watchdog.min_restart")
	}
	if c.Watchdog.BackoffRate < 1 {
		return errors.New("watchdog.backoff_rate must be at least 1")
	}
	return nil
}

func (c *Config) validateMQTT() error {
	if !c.MQTT.Enabled {
		return nil
	}
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker must be set when mqtt.enabled is true")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return errors.New("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

func (c *Config) validateLibrary() error {
	names := make(map[string]struct{}, len(c.Bands))
	for _, entry := range c.Bands {
		name := strings.ToLower(strings.TrimSpace(entry.Name))
		if name == "" {
			return errors.New("bands: every band needs a name")
		}
		if _, dup := names[name]; dup {
			return fmt.Errorf("bands: duplicate band name %q", entry.Name)
		}
		names[name] = struct{}{}
		if _, err := entry.Band(); err != nil {
			return fmt.Errorf("bands: %w", err)
		}
	}
	for _, p := range c.Presets {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("presets: every preset needs a name")
		}
		if _, _, err := c.ResolveTune(p.Tune()); err != nil {
			return fmt.Errorf("preset %q: %w", p.Name, err)
		}
	}
	if c.Default.Band != "" {
		if _, _, err := c.ResolveTune(c.Default); err != nil {
			return fmt.Errorf("default: %w", err)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
