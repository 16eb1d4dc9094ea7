// Package ipam defines the VPN address allocation port.
package ipam

import (
	"context"
	"net/netip"
)

// Allocator maps stable identifiers to unique VPN addresses.
type Allocator interface {
	// Allocate returns the address assigned to id, assigning the lowest free
	// host address on first use. Fails with domain.ErrAddressSpaceExhausted.
	Allocate(ctx context.Context, id string) (netip.Addr, error)
	// ClientConfig renders the peer configuration for id at addr. A non-empty
	// publicKey also registers the peer with the server, best effort.
	ClientConfig(ctx context.Context, id string, addr netip.Addr, publicKey string) (string, error)
	// ServerPublicKey returns the server key or a placeholder when it is not yet generated.
	ServerPublicKey() string
	// Endpoint returns the public host:port of the VPN server.
	Endpoint() string
}
