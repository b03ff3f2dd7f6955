package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dvbrx/internal/config"
	"dvbrx/internal/daemon"
	"dvbrx/internal/ipc"
	"dvbrx/internal/journal"
	"dvbrx/internal/logging"
	"dvbrx/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	baseDir    string
	logPath    string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithPresets(config.Preset{Name: "Local mux", Band: "Terrestrial"}))
	base := testsupport.BaseDir(cfg)
	logPath := filepath.Join(cfg.Paths.LogDir, "dvbrx-test.log")
	testsupport.WriteFile(t, logPath, "")

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	reg, _ := testsupport.NewIdleRegistry(t)
	events, err := journal.Open("cli-run")
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Logger:   logging.NewNop(),
		Journal:  events,
		LogPath:  logPath,
		Registry: reg,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	socketPath := filepath.Join(cfg.Paths.RuntimeDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logging.NewNop())
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	env := &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
		logPath:    logPath,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

// writeTestConfig writes the path settings and band library of cfg as TOML.
func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "[paths]\nlog_dir = %q\nruntime_dir = %q\n\n", cfg.Paths.LogDir, cfg.Paths.RuntimeDir)
	fmt.Fprintf(&b, "[longmynd]\nmedia_path = %q\nstatus_path = %q\n\n", cfg.Longmynd.MediaPath, cfg.Longmynd.StatusPath)
	fmt.Fprintf(&b, "[combituner]\nmedia_path = %q\n\n", cfg.CombiTuner.MediaPath)
	fmt.Fprintf(&b, "[netstream]\nmedia_path = %q\n\n", cfg.NetStream.MediaPath)
	fmt.Fprintf(&b, "[heartbeat]\npath = %q\n\n", cfg.Heartbeat.Path)
	fmt.Fprintf(&b, "[hardware]\nsysfs_root = %q\nhotplug = false\n\n", cfg.Hardware.SysfsRoot)
	for _, band := range cfg.Bands {
		fmt.Fprintf(&b, "[[bands]]\nname = %q\nsource = %q\nlo_side = %q\n\n", band.Name, band.Source, band.LOSide)
	}
	for _, p := range cfg.Presets {
		fmt.Fprintf(&b, "[[presets]]\nname = %q\nband = %q\n\n", p.Name, p.Band)
	}
	testsupport.WriteFile(t, path, b.String())
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
