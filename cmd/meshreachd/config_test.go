package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

func TestLoadConfigMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, dc, err := loadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	want := types.DefaultConfig()
	if cfg != want {
		t.Fatalf("expected default config, got %+v", cfg)
	}
	if dc.DataDir != "./meshreachd-data" {
		t.Fatalf("expected default data dir, got %q", dc.DataDir)
	}
}

func TestLoadConfigOverlaysMillisecondFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshreachd.yaml")
	contents := `
max_ttl: 6
retry_base_ms: 500
retry_factor: 2.0
announce_period_ms: 1500
data_dir: /var/lib/meshreachd
rendezvous_url: wss://relay.example.com/ws
mdns_port: 5353
debug: true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, dc, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.MaxTTL != 6 {
		t.Fatalf("expected MaxTTL=6, got %d", cfg.MaxTTL)
	}
	if cfg.RetryBase != 500*time.Millisecond {
		t.Fatalf("expected RetryBase=500ms, got %v", cfg.RetryBase)
	}
	if cfg.RetryFactor != 2.0 {
		t.Fatalf("expected RetryFactor=2.0, got %v", cfg.RetryFactor)
	}
	if cfg.AnnouncePeriod != 1500*time.Millisecond {
		t.Fatalf("expected AnnouncePeriod=1500ms, got %v", cfg.AnnouncePeriod)
	}
	// Fields left unset in the file fall back to types.DefaultConfig's values.
	want := types.DefaultConfig()
	if cfg.SeenSetHigh != want.SeenSetHigh {
		t.Fatalf("expected default SeenSetHigh=%d, got %d", want.SeenSetHigh, cfg.SeenSetHigh)
	}

	if dc.DataDir != "/var/lib/meshreachd" {
		t.Fatalf("expected overridden data dir, got %q", dc.DataDir)
	}
	if dc.RendezvousURL != "wss://relay.example.com/ws" {
		t.Fatalf("expected overridden rendezvous url, got %q", dc.RendezvousURL)
	}
	if dc.MDNSPort != 5353 {
		t.Fatalf("expected overridden mdns port, got %d", dc.MDNSPort)
	}
	if !dc.Debug {
		t.Fatalf("expected debug=true")
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshreachd.yaml")
	if err := os.WriteFile(path, []byte("max_ttl: [this is not an int"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := loadConfig(path); err == nil {
		t.Fatalf("expected an error parsing malformed YAML")
	}
}
