package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/handlers"
	"github.com/veritest/veritest/internal/middleware"
	"github.com/veritest/veritest/internal/storage"
)

func newAttachmentEnv() (*echo.Echo, *handlers.AttachmentHandler) {
	e := echo.New()
	store := storage.NewAferoStore(afero.NewMemMapFs(), "/attachments")
	return e, handlers.NewAttachmentHandler(store)
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestAttachments_UploadThenDownload(t *testing.T) {
	e, handler := newAttachmentEnv()

	body, contentType := multipartBody(t, "screenshot.png", "fake image bytes")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/ticket-1/attachments", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(middleware.UserContextKey, visitor)
	c.SetParamNames("id")
	c.SetParamValues("ticket-1")

	require.NoError(t, handler.Upload(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var att events.Attachment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &att))
	assert.Equal(t, "screenshot.png", att.Name)
	assert.Equal(t, int64(len("fake image bytes")), att.Size)
	require.True(t, strings.HasPrefix(att.URL, "/attachments/ticket-1/"))

	key := strings.TrimPrefix(att.URL, "/attachments/")
	dlReq := httptest.NewRequest(http.MethodGet, att.URL, nil)
	dlRec := httptest.NewRecorder()
	dlCtx := e.NewContext(dlReq, dlRec)
	dlCtx.SetParamNames("*")
	dlCtx.SetParamValues(key)

	require.NoError(t, handler.Download(dlCtx))
	require.Equal(t, http.StatusOK, dlRec.Code)
	assert.Equal(t, "fake image bytes", dlRec.Body.String())
}

func TestAttachments_UploadWithoutFileIsRejected(t *testing.T) {
	e, handler := newAttachmentEnv()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/ticket-1/attachments", strings.NewReader(""))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(middleware.UserContextKey, visitor)
	c.SetParamNames("id")
	c.SetParamValues("ticket-1")

	require.NoError(t, handler.Upload(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttachments_DownloadRejectsTraversal(t *testing.T) {
	e, handler := newAttachmentEnv()

	for _, key := range []string{"", "../secrets", "ticket-1/../../etc/passwd"} {
		req := httptest.NewRequest(http.MethodGet, "/attachments/x", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("*")
		c.SetParamValues(key)

		require.NoError(t, handler.Download(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "key=%q", key)
	}
}

func TestAttachments_DownloadUnknownKeyIs404(t *testing.T) {
	e, handler := newAttachmentEnv()

	req := httptest.NewRequest(http.MethodGet, "/attachments/ticket-1/nope.png", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("*")
	c.SetParamValues("ticket-1/nope.png")

	require.NoError(t, handler.Download(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
