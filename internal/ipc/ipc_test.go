package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dvbrx/internal/config"
	"dvbrx/internal/daemon"
	"dvbrx/internal/ipc"
	"dvbrx/internal/journal"
	"dvbrx/internal/logging"
	"dvbrx/internal/source"
	"dvbrx/internal/testsupport"
)

func startServer(t *testing.T, cfg *config.Config, logPath string) (*daemon.Daemon, *ipc.Client) {
	t.Helper()
	reg, _ := testsupport.NewIdleRegistry(t)
	j, err := journal.Open("ipc-run")
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Logger:   logging.NewNop(),
		Journal:  j,
		LogPath:  logPath,
		Registry: reg,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := cfg.SocketPath()
	srv, err := ipc.NewServer(ctx, socket, d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
		if _, err := os.Stat(socket); !os.IsNotExist(err) {
			t.Errorf("expected socket to be removed, stat err=%v", err)
		}
	})

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return d, client
}

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPresets(config.Preset{
		Name:   "Mux",
		Band:   "Terrestrial",
		Values: map[string]any{"bw": int64(8000)},
	}))
	logPath := filepath.Join(cfg.Paths.LogDir, "ipc-test.log")
	_, client := startServer(t, cfg, logPath)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.Running || status.Receiver != nil {
		t.Fatalf("expected stopped daemon, got %#v", status)
	}

	if _, err := client.Tune(ipc.TuneRequest{Band: "Terrestrial"}); err == nil {
		t.Fatal("expected tune to fail while stopped")
	}

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}

	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.Receiver == nil {
		t.Fatalf("expected running receiver, got %#v", status)
	}
	if status.Receiver.Source != string(source.KindLongmynd) {
		t.Fatalf("source: got %q want %q", status.Receiver.Source, source.KindLongmynd)
	}
	if status.RunID != "ipc-run" {
		t.Fatalf("run id: got %q", status.RunID)
	}

	bands, err := client.Bands()
	if err != nil {
		t.Fatalf("Bands RPC failed: %v", err)
	}
	if len(bands.Bands) != 2 || bands.Bands[1].Name != "Terrestrial" || bands.Bands[1].Source != "combituner" {
		t.Fatalf("unexpected bands: %#v", bands.Bands)
	}
	if len(bands.Presets) != 1 || bands.Presets[0].Name != "Mux" {
		t.Fatalf("unexpected presets: %#v", bands.Presets)
	}

	tuned, err := client.Tune(ipc.TuneRequest{Band: "Terrestrial"})
	if err != nil {
		t.Fatalf("Tune RPC failed: %v", err)
	}
	if tuned.Receiver.Source != "combituner" {
		t.Fatalf("tuned source: got %q", tuned.Receiver.Source)
	}

	inline, err := client.Tune(ipc.TuneRequest{Inline: &config.BandEntry{
		Name: "Adhoc", Source: "longmynd", LOFreq: 9750000, Port: "bottom", Polarity: "horizontal",
	}})
	if err != nil {
		t.Fatalf("inline Tune RPC failed: %v", err)
	}
	if inline.Receiver.Band.Port != "bottom" || inline.Receiver.Band.Polarity != "horizontal" {
		t.Fatalf("unexpected inline band: %#v", inline.Receiver.Band)
	}

	if _, err := client.Tune(ipc.TuneRequest{Band: "Nowhere"}); err == nil {
		t.Fatal("expected unknown band to fail")
	}

	if _, err := client.Restart(); err != nil {
		t.Fatalf("Restart RPC failed: %v", err)
	}

	events, err := client.Events(ipc.EventsRequest{Kinds: []string{"tune", "restart"}})
	if err != nil {
		t.Fatalf("Events RPC failed: %v", err)
	}
	if len(events.Events) != 3 {
		t.Fatalf("expected 3 events, got %#v", events.Events)
	}
	if events.Next != events.Events[2].ID || events.RunID != "ipc-run" {
		t.Fatalf("unexpected cursor: next=%d run=%q", events.Next, events.RunID)
	}
	more, err := client.Events(ipc.EventsRequest{After: events.Next, Kinds: []string{"tune", "restart"}})
	if err != nil {
		t.Fatalf("Events RPC failed: %v", err)
	}
	if len(more.Events) != 0 || more.Next != events.Next {
		t.Fatalf("expected no newer events, got %#v", more)
	}

	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	tail, err := client.LogTail(ipc.LogTailRequest{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("LogTail RPC failed: %v", err)
	}
	if len(tail.Lines) != 2 || tail.Lines[0] != "second" || tail.Lines[1] != "third" {
		t.Fatalf("unexpected log tail lines: %#v", tail.Lines)
	}

	stopResp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop RPC failed: %v", err)
	}
	if !stopResp.Stopped {
		t.Fatal("expected Stopped=true")
	}
	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestLogTailFollowTimesOut(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	logPath := filepath.Join(cfg.Paths.LogDir, "follow.log")
	if err := os.WriteFile(logPath, []byte("only\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	_, client := startServer(t, cfg, logPath)

	start := time.Now()
	resp, err := client.LogTail(ipc.LogTailRequest{Offset: 5, Follow: true, WaitMillis: 300})
	if err != nil {
		t.Fatalf("LogTail RPC failed: %v", err)
	}
	if len(resp.Lines) != 0 || resp.Offset != 5 {
		t.Fatalf("unexpected follow result: %#v", resp)
	}
	if time.Since(start) < 250*time.Millisecond {
		t.Fatal("expected follow to wait for new lines")
	}
}
