package daemon_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dvbrx/internal/config"
	"dvbrx/internal/daemon"
	"dvbrx/internal/journal"
	"dvbrx/internal/logging"
	"dvbrx/internal/source"
	"dvbrx/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *journal.Journal) {
	t.Helper()
	reg, _ := testsupport.NewIdleRegistry(t)
	j, err := journal.Open("test-run")
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Logger:   logging.NewNop(),
		Journal:  j,
		Registry: reg,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d, j
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.Receiver == nil || status.Receiver.Kind != source.KindLongmynd {
		t.Fatalf("expected longmynd receiver, got %#v", status.Receiver)
	}
	if status.RunID != "test-run" {
		t.Fatalf("run id: got %q want %q", status.RunID, "test-run")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
	if status.Receiver != nil {
		t.Fatal("expected no receiver report after stop")
	}
}

func TestSecondInstanceIsLockedOut(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _ := newDaemon(t, cfg)
	second, _ := newDaemon(t, cfg)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected lock contention error")
	}
	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}

func TestTuneSwitchesSource(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPresets(config.Preset{Name: "Local mux", Band: "Terrestrial"}))
	d, j := newDaemon(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := d.Tune(ctx, daemon.TuneRequest{Band: "Terrestrial"}); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	report, err := d.Tune(ctx, daemon.TuneRequest{Band: "terrestrial"})
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	if report.Kind != source.KindCombiTuner {
		t.Fatalf("kind: got %s want %s", report.Kind, source.KindCombiTuner)
	}

	report, err = d.Tune(ctx, daemon.TuneRequest{Inline: &config.BandEntry{Name: "Adhoc", Source: "longmynd", LOFreq: 9750000}})
	if err != nil {
		t.Fatalf("inline Tune: %v", err)
	}
	if report.Kind != source.KindLongmynd || report.Band.LOFreq != 9750000 {
		t.Fatalf("unexpected inline report: %#v", report.Band)
	}

	report, err = d.Tune(ctx, daemon.TuneRequest{Preset: "local mux"})
	if err != nil {
		t.Fatalf("preset Tune: %v", err)
	}
	if report.Kind != source.KindCombiTuner {
		t.Fatalf("preset kind: got %s", report.Kind)
	}

	events, err := d.Events(ctx, journal.Query{Kinds: []journal.Kind{journal.KindTune}})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 tune events, got %d", len(events))
	}
	if counts, _ := j.Counts(ctx); counts[journal.KindTune] != 3 {
		t.Fatalf("tune count: got %d want 3", counts[journal.KindTune])
	}
}

func TestTuneRejectsUnknownTargets(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tests := []struct {
		name string
		req  daemon.TuneRequest
	}{
		{name: "empty", req: daemon.TuneRequest{}},
		{name: "unknown band", req: daemon.TuneRequest{Band: "Nowhere"}},
		{name: "unknown preset", req: daemon.TuneRequest{Preset: "Nowhere"}},
		{name: "unregistered source", req: daemon.TuneRequest{Inline: &config.BandEntry{Name: "Web", Source: "netstream", Domain: "example.org"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := d.Tune(ctx, tc.req); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	status := d.Status(ctx)
	if status.Receiver == nil || status.Receiver.Kind != source.KindLongmynd {
		t.Fatalf("expected receiver to stay on longmynd, got %#v", status.Receiver)
	}
}

func TestBandsAndRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)

	bands, presets, err := d.Bands()
	if err != nil {
		t.Fatalf("Bands: %v", err)
	}
	if len(bands) != 2 || bands[0].Name != "Direct" || len(presets) != 0 {
		t.Fatalf("unexpected library: %#v %#v", bands, presets)
	}

	ctx := context.Background()
	if _, err := d.Restart(ctx); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := d.Restart(ctx); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	events, err := d.Events(ctx, journal.Query{Kinds: []journal.Kind{journal.KindRestart}})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one restart event, got %d", len(events))
	}
}
