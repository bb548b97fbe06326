// Package events defines the wire contract of the ticket-room realtime
// channel: event names, their payload shapes, and the envelope framing that
// both the client session and the server bridge speak.
package events

import (
	"encoding/json"
	"fmt"
)

// Event names exchanged over the realtime channel. "out" events originate
// from the client, "in" events from the server.
const (
	JoinTicket    = "join-ticket"  // out {ticketId}
	LeaveTicket   = "leave-ticket" // out {ticketId}
	SendMessage   = "send-message" // out {ticketId, message, messageType}
	NewMessage    = "new-message"  // in  {message}
	TypingStart   = "typing-start" // out {ticketId}
	TypingStop    = "typing-stop"  // out {ticketId}
	UserTyping    = "user-typing"  // in  {userId, userName, isTyping}
	MarkRead      = "mark-read"    // out {messageId, ticketId}
	MessageRead   = "message-read" // in  {messageId, userId}
	UserJoined    = "user-joined"  // in  {userId, userName}
	UserLeft      = "user-left"    // in  {userId, userName}
	TicketUpdated = "ticket-updated" // in {ticket}
	Error         = "error"        // in  {reason}
)

// Envelope is the frame exchanged with the transport: an event name plus its
// JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it with the event name.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Event, err)
	}
	return nil
}

// RoomRef is the payload of join-ticket and leave-ticket, and of the
// outbound typing events.
type RoomRef struct {
	TicketID string `json:"ticketId"`
}

// SendMessagePayload carries the raw content of a locally-sent message for
// low-latency peer delivery. The durable store remains authoritative; this
// is a best-effort hint.
type SendMessagePayload struct {
	TicketID    string      `json:"ticketId"`
	Message     string      `json:"message"`
	MessageType MessageKind `json:"messageType"`
}

// NewMessagePayload carries a canonical message arriving from the server.
type NewMessagePayload struct {
	Message Message `json:"message"`
}

// UserTypingPayload reports a remote user's typing state.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// MarkReadPayload is the outbound read acknowledgment.
type MarkReadPayload struct {
	MessageID string `json:"messageId"`
	TicketID  string `json:"ticketId"`
}

// MessageReadPayload reports that a user has read a message.
type MessageReadPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// UserPresencePayload accompanies user-joined and user-left.
type UserPresencePayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// TicketUpdatedPayload carries the updated ticket. The ticket lifecycle is
// external to the chat core, so the body stays opaque.
type TicketUpdatedPayload struct {
	Ticket json.RawMessage `json:"ticket"`
}

// ErrorPayload is the server-side error notice.
type ErrorPayload struct {
	Reason string `json:"reason"`
}
