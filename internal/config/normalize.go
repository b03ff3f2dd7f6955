package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBackends(); err != nil {
		return err
	}
	c.normalizeMQTT()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		c.Paths.RuntimeDir = defaultRuntimeDir
	}
	if c.Paths.RuntimeDir, err = expandPath(c.Paths.RuntimeDir); err != nil {
		return fmt.Errorf("paths.runtime_dir: %w", err)
	}
	if c.Paths.Socket, err = expandPath(strings.TrimSpace(c.Paths.Socket)); err != nil {
		return fmt.Errorf("paths.socket: %w", err)
	}
	if c.Heartbeat.Path, err = expandPath(strings.TrimSpace(c.Heartbeat.Path)); err != nil {
		return fmt.Errorf("heartbeat.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeBackends() error {
	fields := []struct {
		key   string
		value *string
		def   string
	}{
		{"longmynd.media_path", &c.Longmynd.MediaPath, defaultLongmyndMediaPath},
		{"longmynd.status_path", &c.Longmynd.StatusPath, defaultLongmyndStatusPath},
		{"combituner.media_path", &c.CombiTuner.MediaPath, defaultCombiTunerMediaPath},
		{"netstream.media_path", &c.NetStream.MediaPath, defaultNetStreamMediaPath},
	}
	for _, f := range fields {
		if strings.TrimSpace(*f.value) == "" {
			*f.value = f.def
		}
		expanded, err := expandPath(strings.TrimSpace(*f.value))
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		*f.value = expanded
	}
	c.Longmynd.Binary = strings.TrimSpace(c.Longmynd.Binary)
	if c.Longmynd.Binary == "" {
		c.Longmynd.Binary = defaultLongmyndBinary
	}
	c.CombiTuner.Binary = strings.TrimSpace(c.CombiTuner.Binary)
	if c.CombiTuner.Binary == "" {
		c.CombiTuner.Binary = defaultCombiTunerBinary
	}
	if strings.HasPrefix(c.Longmynd.Binary, "~") {
		expanded, err := expandPath(c.Longmynd.Binary)
		if err != nil {
			return fmt.Errorf("longmynd.binary: %w", err)
		}
		c.Longmynd.Binary = expanded
	}
	if strings.HasPrefix(c.CombiTuner.Binary, "~") {
		expanded, err := expandPath(c.CombiTuner.Binary)
		if err != nil {
			return fmt.Errorf("combituner.binary: %w", err)
		}
		c.CombiTuner.Binary = expanded
	}
	if strings.TrimSpace(c.Hardware.SysfsRoot) == "" {
		c.Hardware.SysfsRoot = defaultSysfsRoot
	}
	return nil
}

func (c *Config) normalizeMQTT() {
	c.MQTT.Broker = strings.TrimSpace(c.MQTT.Broker)
	c.MQTT.ClientID = strings.TrimSpace(c.MQTT.ClientID)
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = defaultMQTTClientID
	}
	c.MQTT.TopicPrefix = strings.Trim(strings.TrimSpace(c.MQTT.TopicPrefix), "/")
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = defaultMQTTTopicPrefix
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
