package types

import "time"

// DeviceKind classifies the remote device for display purposes only; it has
// no effect on routing.
type DeviceKind string

const (
	DevicePhone    DeviceKind = "phone"
	DeviceTablet   DeviceKind = "tablet"
	DeviceLaptop   DeviceKind = "laptop"
	DeviceDesktop  DeviceKind = "desktop"
	DeviceUnknown  DeviceKind = "unknown"
)

// Transport names the concrete channel that most recently observed a peer.
type Transport string

const (
	TransportLocal      Transport = "local"
	TransportInternet   Transport = "internet"
	TransportRendezvous Transport = "rendezvous"
	TransportNative     Transport = "native"
)

// AllTransports enumerates every transport the selector may score, in no
// particular order; selector.Select decides ranking.
var AllTransports = []Transport{TransportLocal, TransportInternet, TransportRendezvous, TransportNative}

// genericNamePrefixes lists name prefixes the peer registry treats as
// placeholders that must never override a concrete display name.
var genericNamePrefixes = []string{"MeshUser-", "Device-"}

// IsGenericName reports whether name is a placeholder generated by a
// transport driver rather than a user-chosen display name.
func IsGenericName(name string) bool {
	for _, prefix := range genericNamePrefixes {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Device is the merged, application-facing view of a remote node.
type Device struct {
	ID             string
	Name           string
	SignalStrength int
	Distance       float64
	Angle          float64
	IsConnected    bool
	IsOnline       bool
	LastSeen       time.Time
	Type           DeviceKind
	ConnectionType Transport
	IsSelf         bool
	IsTyping       bool
}
