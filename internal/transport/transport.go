// Package transport provides the broadcast channel the two displays
// coordinate over. A transport is fire-and-forget: publishing never blocks
// on the peer, delivery is not guaranteed, and ordering is preserved only
// among messages from the same sender. Every subscriber receives every
// publication on the channel, including its own; filtering self-originated
// messages is the router's job.
package transport

import "context"

// Handler receives one raw message. It is invoked from the transport's
// delivery goroutine and must not block for long.
type Handler func(data []byte)

// Transport is a named broadcast channel handle.
type Transport interface {
	// Publish sends data to every subscriber of the channel. It never
	// blocks waiting for receivers.
	Publish(ctx context.Context, data []byte) error

	// Subscribe registers a handler for every message on the channel and
	// returns a cancel function. After cancel returns, the handler fires
	// no more.
	Subscribe(fn Handler) (cancel func(), err error)

	// Ready reports whether the channel is usable at all. A degraded
	// transport returns false and swallows publishes.
	Ready() bool

	// Close releases the channel. After Close, no further callbacks fire.
	Close() error
}

// Noop returns a transport whose operations all succeed without doing
// anything. It is the degraded mode used when the broker is unreachable:
// each display then operates independently rather than crashing.
func Noop() Transport {
	return noopTransport{}
}

type noopTransport struct{}

func (noopTransport) Publish(context.Context, []byte) error { return nil }
func (noopTransport) Subscribe(Handler) (func(), error)     { return func() {}, nil }
func (noopTransport) Ready() bool                           { return false }
func (noopTransport) Close() error                          { return nil }
