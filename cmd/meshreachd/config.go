package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// fileConfig mirrors types.Config but with every duration expressed as a
// plain millisecond integer, matching the "_ms"-suffixed YAML keys
// types.Config itself carries; decoding straight into a time.Duration
// field would read the YAML integer as nanoseconds instead.
type fileConfig struct {
	MaxTTL                *int     `yaml:"max_ttl"`
	MaxPacketSize         *int     `yaml:"max_packet_size"`
	SeenSetHigh           *int     `yaml:"seen_set_high"`
	SeenSetLow            *int     `yaml:"seen_set_low"`
	AnnouncePeriodMS      *int64   `yaml:"announce_period_ms"`
	ScanAnnounceBurst     *int     `yaml:"scan_announce_burst"`
	SoftPeerTimeoutLocal  *int64   `yaml:"soft_peer_timeout_local_ms"`
	SoftPeerTimeoutRemote *int64   `yaml:"soft_peer_timeout_remote_ms"`
	HardPeerTimeout       *int64   `yaml:"hard_peer_timeout_ms"`
	RetryBaseMS           *int64   `yaml:"retry_base_ms"`
	RetryFactor           *float64 `yaml:"retry_factor"`
	RetryCapMS            *int64   `yaml:"retry_cap_ms"`
	MaxRetries            *int     `yaml:"max_retries"`
	ReconnectDrainFloorMS *int64   `yaml:"reconnect_drain_floor_ms"`

	DataDir       string `yaml:"data_dir"`
	DeviceName    string `yaml:"device_name"`
	LocalGroup    string `yaml:"local_group"`
	RendezvousURL string `yaml:"rendezvous_url"`
	MDNSPort      int    `yaml:"mdns_port"`
	MetricsAddr   string `yaml:"metrics_addr"`
	Debug         bool   `yaml:"debug"`
}

// loadConfig reads path if it exists and overlays it on top of
// types.DefaultConfig and defaultDaemonConfig; a missing file is not an error,
// since every field has a usable default.
func loadConfig(path string) (types.Config, daemonConfig, error) {
	cfg := types.DefaultConfig()
	dc := defaultDaemonConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, dc, nil
		}
		return cfg, dc, fmt.Errorf("reading config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return cfg, dc, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if fc.MaxTTL != nil {
		cfg.MaxTTL = *fc.MaxTTL
	}
	if fc.MaxPacketSize != nil {
		cfg.MaxPacketSize = *fc.MaxPacketSize
	}
	if fc.SeenSetHigh != nil {
		cfg.SeenSetHigh = *fc.SeenSetHigh
	}
	if fc.SeenSetLow != nil {
		cfg.SeenSetLow = *fc.SeenSetLow
	}
	if fc.AnnouncePeriodMS != nil {
		cfg.AnnouncePeriod = time.Duration(*fc.AnnouncePeriodMS) * time.Millisecond
	}
	if fc.ScanAnnounceBurst != nil {
		cfg.ScanAnnounceBurst = *fc.ScanAnnounceBurst
	}
	if fc.SoftPeerTimeoutLocal != nil {
		cfg.SoftPeerTimeoutLocal = time.Duration(*fc.SoftPeerTimeoutLocal) * time.Millisecond
	}
	if fc.SoftPeerTimeoutRemote != nil {
		cfg.SoftPeerTimeoutRemote = time.Duration(*fc.SoftPeerTimeoutRemote) * time.Millisecond
	}
	if fc.HardPeerTimeout != nil {
		cfg.HardPeerTimeout = time.Duration(*fc.HardPeerTimeout) * time.Millisecond
	}
	if fc.RetryBaseMS != nil {
		cfg.RetryBase = time.Duration(*fc.RetryBaseMS) * time.Millisecond
	}
	if fc.RetryFactor != nil {
		cfg.RetryFactor = *fc.RetryFactor
	}
	if fc.RetryCapMS != nil {
		cfg.RetryCap = time.Duration(*fc.RetryCapMS) * time.Millisecond
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.ReconnectDrainFloorMS != nil {
		cfg.ReconnectDrainFloor = time.Duration(*fc.ReconnectDrainFloorMS) * time.Millisecond
	}

	if fc.DataDir != "" {
		dc.DataDir = fc.DataDir
	}
	if fc.DeviceName != "" {
		dc.DeviceName = fc.DeviceName
	}
	if fc.LocalGroup != "" {
		dc.LocalGroup = fc.LocalGroup
	}
	if fc.RendezvousURL != "" {
		dc.RendezvousURL = fc.RendezvousURL
	}
	if fc.MDNSPort != 0 {
		dc.MDNSPort = fc.MDNSPort
	}
	if fc.MetricsAddr != "" {
		dc.MetricsAddr = fc.MetricsAddr
	}
	if fc.Debug {
		dc.Debug = true
	}

	return cfg, dc, nil
}

// daemonConfig holds the settings meshreachd itself needs beyond
// types.Config: which transports to stand up and where to store state.
// It has no equivalent inside the mesh engine proper, which knows nothing
// about processes, files, or listen addresses.
type daemonConfig struct {
	DataDir       string
	DeviceName    string
	LocalGroup    string
	RendezvousURL string
	MDNSPort      int
	MetricsAddr   string
	Debug         bool
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		DataDir:     "./meshreachd-data",
		DeviceName:  "meshreachd",
		LocalGroup:  "meshreach-local",
		MDNSPort:    0,
		MetricsAddr: ":9090",
	}
}
