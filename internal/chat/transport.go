// Package chat implements the client-side core of the support-chat system:
// connection lifecycle, ticket-room membership, optimistic message state,
// typing indicators, presence, and read receipts, composed by a Session.
//
// The realtime channel is consumed through the Dialer/Conn contract below,
// so the core is testable without a network and independent of the concrete
// websocket implementation.
package chat

import (
	"context"

	"github.com/veritest/veritest/internal/chat/events"
)

// Conn is a live bidirectional realtime channel. Events() yields inbound
// envelopes and is closed when the connection drops, however that happens.
type Conn interface {
	// Emit sends an event to the server. Best-effort: delivery is not
	// acknowledged.
	Emit(ctx context.Context, event string, payload any) error

	// Events returns the inbound event stream. The channel is closed when
	// the connection is no longer usable.
	Events() <-chan events.Envelope

	// Close tears the connection down. Safe to call more than once.
	Close(reason string) error
}

// Dialer establishes realtime connections. Implementations must return a
// *domain.AuthError when the credential is rejected so the connection
// manager can tell terminal failures from transient ones.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}
