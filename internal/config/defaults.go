package config

const (
	defaultLogDir              = "~/.local/share/dvbrx/logs"
	defaultRuntimeDir          = "~/.local/state/dvbrx"
	defaultLongmyndBinary      = "longmynd"
	defaultLongmyndMediaPath   = "~/.local/state/dvbrx/longmynd_media"
	defaultLongmyndStatusPath  = "~/.local/state/dvbrx/longmynd_status"
	defaultLongmyndTSTimeout   = 5000
	defaultCombiTunerBinary    = "CombiTunerExpress"
	defaultCombiTunerMediaPath = "~/.local/state/dvbrx/combituner_media"
	defaultNetStreamMediaPath  = "~/.local/state/dvbrx/netstream_media"
	defaultMinRestart          = 0.1
	defaultMaxRestart          = 300
	defaultBackoffRate         = 2
	defaultHeartbeatPath       = "~/.local/state/dvbrx/heartbeat"
	defaultHeartbeatInterval   = 5
	defaultSysfsRoot           = "/sys"
	defaultCacheTTL            = 2
	defaultMQTTBroker          = "tcp://127.0.0.1:1883"
	defaultMQTTClientID        = "dvbrx"
	defaultMQTTTopicPrefix     = "dvbrx"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogKeepRuns         = 10
)

// Default returns a Config populated with repository defaults. The band
// library starts with the QO-100 wideband beacon on a 9750 MHz LNB.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:     defaultLogDir,
			RuntimeDir: defaultRuntimeDir,
		},
		Longmynd: Longmynd{
			Binary:     defaultLongmyndBinary,
			MediaPath:  defaultLongmyndMediaPath,
			StatusPath: defaultLongmyndStatusPath,
			TSTimeout:  defaultLongmyndTSTimeout,
		},
		CombiTuner: CombiTuner{
			Binary:    defaultCombiTunerBinary,
			MediaPath: defaultCombiTunerMediaPath,
		},
		NetStream: NetStream{
			MediaPath: defaultNetStreamMediaPath,
		},
		Watchdog: Watchdog{
			MinRestart:  defaultMinRestart,
			MaxRestart:  defaultMaxRestart,
			BackoffRate: defaultBackoffRate,
		},
		Heartbeat: Heartbeat{
			Path:     defaultHeartbeatPath,
			Interval: defaultHeartbeatInterval,
		},
		Hardware: Hardware{
			SysfsRoot: defaultSysfsRoot,
			CacheTTL:  defaultCacheTTL,
			Hotplug:   true,
		},
		Playback: Playback{
			Autoplay: true,
		},
		MQTT: MQTT{
			Broker:      defaultMQTTBroker,
			ClientID:    defaultMQTTClientID,
			TopicPrefix: defaultMQTTTopicPrefix,
		},
		Logging: Logging{
			Format:   defaultLogFormat,
			Level:    defaultLogLevel,
			KeepRuns: defaultLogKeepRuns,
		},
		Bands: []BandEntry{{
			Name:   "QO-100",
			Source: "longmynd",
			LOFreq: 9750000,
			LOSide: "low",
		}},
		Default: Tune{
			Band: "QO-100",
			Values: map[string]any{
				"freq": []any{int64(10491500)},
				"sr":   []any{int64(1500)},
			},
		},
	}
}
