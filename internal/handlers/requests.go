package handlers

import (
	"github.com/go-playground/validator/v10"

	"github.com/veritest/veritest/internal/chat/events"
)

// CustomValidator wraps the go-playground/validator library to implement
// Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// LoginRequest is the DTO for credential issuance.
type LoginRequest struct {
	UserID   string `json:"userId" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Elevated bool   `json:"elevated"`
}

// CreateMessageRequest is the DTO for posting a message to a ticket.
type CreateMessageRequest struct {
	Content    string             `json:"content" validate:"required_without=Attachment"`
	Kind       events.MessageKind `json:"kind" validate:"omitempty,oneof=text file system"`
	Attachment *events.Attachment `json:"attachment"`
}

// EditMessageRequest is the DTO for rewriting a message.
type EditMessageRequest struct {
	Content string `json:"content" validate:"required"`
}
