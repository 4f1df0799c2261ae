// Package native is the disabled-by-default stub for optional native OS
// transports (Bluetooth LE, Wi-Fi peer-to-peer) per spec.md §4.8(d).
//
// No example repo in the retrieval pack depends on a BLE or Wi-Fi-Direct
// library, so this driver is deliberately left unimplemented rather than
// fabricating a dependency: it satisfies transport.Driver, reports itself
// permanently unavailable, and every send path fails with
// ErrTransportUnavailable so the selector never routes through it.
package native

import (
	"context"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/transport"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// Driver is the disabled native-transport stub.
type Driver struct{}

// New returns a disabled native Driver.
func New() *Driver { return &Driver{} }

// Kind implements transport.Driver.
func (d *Driver) Kind() types.Transport { return types.TransportNative }

// Start implements transport.Driver: it immediately reports unavailable
// and does nothing further.
func (d *Driver) Start(ctx context.Context, callbacks transport.Callbacks) error {
	if callbacks.OnAvailableChanged != nil {
		callbacks.OnAvailableChanged(false)
	}
	return nil
}

// Stop implements transport.Driver.
func (d *Driver) Stop(ctx context.Context) error { return nil }

// Broadcast implements transport.Driver.
func (d *Driver) Broadcast(ctx context.Context, payload []byte) error {
	return types.ErrTransportUnavailable
}

// Send implements transport.Driver.
func (d *Driver) Send(ctx context.Context, peerID string, payload []byte) error {
	return types.ErrTransportUnavailable
}
