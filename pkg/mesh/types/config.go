package types

import "time"

// Config holds every tunable the core recognizes, per spec.md §6.
type Config struct {
	MaxTTL                int           `yaml:"max_ttl"`
	MaxPacketSize         int           `yaml:"max_packet_size"`
	SeenSetHigh           int           `yaml:"seen_set_high"`
	SeenSetLow            int           `yaml:"seen_set_low"`
	AnnouncePeriod        time.Duration `yaml:"announce_period_ms"`
	ScanAnnounceBurst     int           `yaml:"scan_announce_burst"`
	SoftPeerTimeoutLocal  time.Duration `yaml:"soft_peer_timeout_local_ms"`
	SoftPeerTimeoutRemote time.Duration `yaml:"soft_peer_timeout_remote_ms"`
	// HardPeerTimeout overrides the registry's hard presence timeout when
	// set to a positive duration. Zero (the default) means "derive it
	// dynamically as 3x whichever soft timeout applied to the device's
	// most recent observation", per spec.md §4.3's "hard = 3x soft" —
	// a single flat value cannot represent that once local and remote
	// soft timeouts differ.
	HardPeerTimeout time.Duration `yaml:"hard_peer_timeout_ms"`
	RetryBase             time.Duration `yaml:"retry_base_ms"`
	RetryFactor           float64       `yaml:"retry_factor"`
	RetryCap              time.Duration `yaml:"retry_cap_ms"`
	MaxRetries            int           `yaml:"max_retries"`
	ReconnectDrainFloor   time.Duration `yaml:"reconnect_drain_floor_ms"`
}

// DefaultConfig returns the configuration spec.md §6 describes as defaults.
func DefaultConfig() Config {
	return Config{
		MaxTTL:                MaxTTL,
		MaxPacketSize:         MaxPacketSize,
		SeenSetHigh:           2000,
		SeenSetLow:            1000,
		AnnouncePeriod:        3000 * time.Millisecond,
		ScanAnnounceBurst:     5,
		SoftPeerTimeoutLocal:  15000 * time.Millisecond,
		SoftPeerTimeoutRemote: 60000 * time.Millisecond,
		HardPeerTimeout:       0,
		RetryBase:             2000 * time.Millisecond,
		RetryFactor:           1.5,
		RetryCap:              60000 * time.Millisecond,
		MaxRetries:            20,
		ReconnectDrainFloor:   10000 * time.Millisecond,
	}
}
