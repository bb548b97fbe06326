package handlers

import "github.com/veritest/veritest/internal/chat/events"

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LoginResponse carries the issued credential the realtime and REST clients
// authenticate with.
type LoginResponse struct {
	Token string `json:"token"`
}

// PageResponse is the DTO for one history page of a ticket conversation.
// The shape matches what the chat client's persistence boundary decodes.
type PageResponse struct {
	Messages    []events.Message `json:"messages"`
	UnreadCount int              `json:"unreadCount"`
}
