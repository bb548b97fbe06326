package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

// RESTClient implements the Persistence boundary against the platform's
// message API. Every failure surfaces as a PersistenceError carrying the
// operation and HTTP status, so callers can roll back optimistic state and
// show a retryable notice.
type RESTClient struct {
	baseURL    string
	credential string
	client     *http.Client
}

// NewRESTClient creates a client for the API at baseURL, authenticating
// with the same bearer credential the realtime channel uses.
func NewRESTClient(baseURL, credential string) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

type createMessageRequest struct {
	Content    string             `json:"content"`
	Kind       events.MessageKind `json:"kind"`
	Attachment *events.Attachment `json:"attachment,omitempty"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// FetchMessages implements Persistence.
func (c *RESTClient) FetchMessages(ctx context.Context, ticketID string, limit int, before string) (Page, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if before != "" {
		q.Set("before", before)
	}
	path := fmt.Sprintf("/api/v1/tickets/%s/messages?%s", url.PathEscape(ticketID), q.Encode())

	var page Page
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return Page{}, err
	}
	return page, nil
}

// CreateMessage implements Persistence.
func (c *RESTClient) CreateMessage(ctx context.Context, ticketID, content string, attachment *events.Attachment, kind events.MessageKind) (events.Message, error) {
	path := fmt.Sprintf("/api/v1/tickets/%s/messages", url.PathEscape(ticketID))
	body := createMessageRequest{Content: content, Kind: kind, Attachment: attachment}

	var msg events.Message
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return events.Message{}, err
	}
	return msg, nil
}

// EditMessage implements Persistence.
func (c *RESTClient) EditMessage(ctx context.Context, id, content string) (events.Message, error) {
	path := fmt.Sprintf("/api/v1/messages/%s", url.PathEscape(id))

	var msg events.Message
	if err := c.do(ctx, http.MethodPatch, path, editMessageRequest{Content: content}, &msg); err != nil {
		return events.Message{}, err
	}
	return msg, nil
}

// DeleteMessage implements Persistence.
func (c *RESTClient) DeleteMessage(ctx context.Context, id string) error {
	path := fmt.Sprintf("/api/v1/messages/%s", url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// MarkRead implements Persistence.
func (c *RESTClient) MarkRead(ctx context.Context, id string) error {
	path := fmt.Sprintf("/api/v1/messages/%s/read", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// MarkAllRead implements Persistence.
func (c *RESTClient) MarkAllRead(ctx context.Context, ticketID string) error {
	path := fmt.Sprintf("/api/v1/tickets/%s/read-all", url.PathEscape(ticketID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// do performs one API call, encoding body and decoding the response into
// out when non-nil.
func (c *RESTClient) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &domain.PersistenceError{Op: op, Err: err}
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &domain.PersistenceError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.credential)

	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.PersistenceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.PersistenceError{Op: op, Status: resp.StatusCode}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &domain.PersistenceError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	return nil
}
