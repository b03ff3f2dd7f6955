package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"dvbrx/internal/config"
	"dvbrx/internal/daemon"
	"dvbrx/internal/deps"
	"dvbrx/internal/ipc"
	"dvbrx/internal/journal"
	"dvbrx/internal/logging"
	"dvbrx/internal/player"
	"dvbrx/internal/preflight"
	"dvbrx/internal/telemetry"
	"dvbrx/internal/watchdog"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// SocketPath overrides the configured control socket.
	SocketPath string
}

// Run starts the dvbrx daemon runtime loop and blocks until SIGINT/SIGTERM
// or cmdCtx is cancelled.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runStamp := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("dvbrx-%s.log", runStamp))
	sessionID := uuid.NewString()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		SessionID:        sessionID,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	events, err := journal.Open(sessionID)
	if err != nil {
		return fmt.Errorf("open event journal: %w", err)
	}
	logger = logging.TeeLogger(logger, journal.NewHandler(events, slog.LevelWarn))

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update dvbrx.log link: %v\n", err)
	}
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, "dvbrx-*.log", cfg.Logging.KeepRuns, logPath)
	logDependencySnapshot(logger, cfg)
	logPreflight(signalCtx, logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	var indicators []player.Indicator
	var sinks []player.StateSink
	if cfg.MQTT.Enabled {
		publisher, err := telemetry.Connect(cfg.MQTT, logger)
		if err != nil {
			logging.WarnWithContext(logger, "mqtt telemetry unavailable", "mqtt_connect_failed",
				logging.Error(err),
				logging.String("broker", cfg.MQTT.Broker),
				logging.String(logging.FieldErrorHint, "check mqtt.broker and that the broker is running"),
				logging.String(logging.FieldImpact, "receiver state is not published"),
			)
		} else {
			defer publisher.Close()
			indicators = append(indicators, publisher)
			sinks = append(sinks, publisher)
		}
	}

	var playback player.Playback
	if pb := player.NewCommandPlayback(cfg.Playback.Command, logger); pb != nil {
		playback = pb
		defer pb.Stop()
	}

	d, err := daemon.New(daemon.Options{
		Config:     cfg,
		Logger:     logger,
		Journal:    events,
		LogPath:    logPath,
		Playback:   playback,
		Indicators: indicators,
		Sinks:      sinks,
	})
	if err != nil {
		events.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := cfg.SocketPath()
	if opts.SocketPath != "" {
		socketPath = opts.SocketPath
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if path := cfg.Heartbeat.Path; path != "" {
		hb := watchdog.NewHeartbeat(path, cfg.HeartbeatInterval(), logger)
		go func() {
			if err := hb.Run(signalCtx); err != nil {
				logging.WarnWithContext(logger, "heartbeat stopped", "heartbeat_failed",
					logging.Error(err),
					logging.String("path", path),
					logging.String(logging.FieldErrorHint, "check heartbeat.path is writable"),
					logging.String(logging.FieldImpact, "an external supervisor may restart the daemon"),
				)
			}
		}()
	}

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the band library and default tune, then run dvbrx start"),
			logging.String(logging.FieldImpact, "no source is received until the receiver is started"),
		)
	}

	<-signalCtx.Done()
	logger.Info("dvbrx daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "dvbrx.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("mqtt_enabled", cfg.MQTT.Enabled),
		logging.Bool("autoplay", cfg.Playback.Autoplay),
		logging.Int("band_count", len(cfg.Bands)),
	}
	for _, status := range deps.Check(cfg) {
		attrs = append(attrs,
			logging.Bool(status.Name+"_available", status.Available),
			logging.String(status.Name+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run dvbrx status for the full health report"),
			logging.String(logging.FieldImpact, "the receiver may fail to start a source"),
		)
	}
}
