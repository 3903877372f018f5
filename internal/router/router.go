// Package router decodes inbound wire messages into typed events and
// dispatches them to registered handlers. Malformed or unknown messages are
// dropped and logged, never surfaced; the router holds no state beyond its
// dispatch table, so the protocol's parsing and validation are testable
// without a live transport.
package router

import (
	"github.com/rs/zerolog/log"

	"github.com/lottopos/terminal/internal/protocol"
)

// Handler processes one validated message. payload is the typed value
// produced by protocol.Message.DecodePayload for the message's kind (nil
// for kinds that carry none).
type Handler func(msg protocol.Message, payload any)

// Router routes raw channel messages for one endpoint role.
type Router struct {
	role     protocol.Role
	handlers map[protocol.Kind]Handler
	inbound  func(from protocol.Role) // presence tap, fired for every peer message
}

// New creates a router that drops messages originating from the given role.
func New(role protocol.Role) *Router {
	return &Router{
		role:     role,
		handlers: make(map[protocol.Kind]Handler),
	}
}

// Handle registers the single handler for a kind. Registration happens at
// endpoint construction; a later registration for the same kind replaces
// the earlier one.
func (r *Router) Handle(kind protocol.Kind, fn Handler) {
	r.handlers[kind] = fn
}

// OnInbound registers a tap invoked for every accepted message from the
// peer role, before kind dispatch. The presence monitor hangs off this so
// business traffic refreshes liveness too.
func (r *Router) OnInbound(fn func(from protocol.Role)) {
	r.inbound = fn
}

// Dispatch decodes, validates and routes one raw message. It never panics
// and never reports an error to the transport: every failure is a logged
// drop.
func (r *Router) Dispatch(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		log.Debug().Err(err).Str("role", string(r.role)).Msg("dropping undecodable message")
		return
	}

	// The broadcast channel echoes our own sends; never self-process.
	if msg.SenderRole == r.role {
		return
	}

	if r.inbound != nil {
		r.inbound(msg.SenderRole)
	}

	payload, err := msg.DecodePayload()
	if err != nil {
		log.Debug().
			Err(err).
			Str("role", string(r.role)).
			Str("kind", string(msg.Kind)).
			Msg("dropping malformed message")
		return
	}

	fn, ok := r.handlers[msg.Kind]
	if !ok {
		log.Debug().
			Str("role", string(r.role)).
			Str("kind", string(msg.Kind)).
			Msg("no handler registered, dropping message")
		return
	}
	fn(msg, payload)
}
