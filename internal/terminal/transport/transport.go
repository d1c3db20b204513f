// Package transport provides the two low-level channels terminal providers
// are built on: an HTTPS channel for cloud gateways and a raw TCP channel
// for LAN-attached terminals.
package transport

import "context"

// Transport is the request/reply channel contract for frame-oriented
// devices. A Transport instance is owned by exactly one consumer: opened
// once, used for its lifetime, and closed on every exit path. The REST
// channel is not a Transport; cloud vendors speak method/path/body, not
// opaque frames.
type Transport interface {
	// Connect establishes the channel. Respects the context deadline.
	Connect(ctx context.Context) error

	// SendAndReceive transmits one payload and waits for the reply.
	SendAndReceive(ctx context.Context, payload []byte) ([]byte, error)

	// Close releases the channel. Safe to call more than once.
	Close() error
}
