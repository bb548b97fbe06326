package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/veritest/veritest/internal/middleware"
	"github.com/veritest/veritest/internal/storage"
)

// AttachmentHandler accepts attachment uploads and serves their bytes. The
// chat core only ever sees the opaque metadata the upload returns.
type AttachmentHandler struct {
	store storage.Store
}

// NewAttachmentHandler creates a new AttachmentHandler.
func NewAttachmentHandler(store storage.Store) *AttachmentHandler {
	return &AttachmentHandler{store: store}
}

// Upload handles POST /api/v1/tickets/:id/attachments with a multipart
// form. Returns the attachment metadata a file message carries.
func (h *AttachmentHandler) Upload(c echo.Context) error {
	if _, err := currentUser(c); err != nil {
		return err
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "bad_request", Message: "missing file"})
	}
	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "bad_request", Message: "unreadable file"})
	}
	defer src.Close()

	att, err := h.store.Save(c.Request().Context(), c.Param("id"), fileHeader.Filename, src)
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Attachment upload failed", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "internal", Message: "failed to store attachment"})
	}

	return c.JSON(http.StatusCreated, att)
}

// Download handles GET /attachments/*.
func (h *AttachmentHandler) Download(c echo.Context) error {
	key := strings.TrimPrefix(c.Param("*"), "/")
	if key == "" || strings.Contains(key, "..") {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "bad_request", Message: "invalid attachment key"})
	}

	rc, err := h.store.Open(c.Request().Context(), key)
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Code: "not_found", Message: "attachment not found"})
	}
	defer rc.Close()

	return c.Stream(http.StatusOK, "application/octet-stream", rc)
}
