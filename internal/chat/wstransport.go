package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

// WebsocketDialer dials the server's realtime endpoint and speaks the
// envelope framing over JSON text frames. The credential travels as a
// bearer token on the handshake request.
type WebsocketDialer struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// HTTPClient optionally overrides the handshake client.
	HTTPClient *http.Client
}

// Dial implements Dialer. A 401 or 403 handshake response maps to
// AuthError; every other failure is a transient ConnectionError.
func (d *WebsocketDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	opts := &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: http.Header{"Authorization": {"Bearer " + credential}},
	}

	c, resp, err := websocket.Dial(ctx, d.URL, opts)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &domain.AuthError{Reason: fmt.Sprintf("credential rejected with status %d", resp.StatusCode)}
		}
		return nil, &domain.ConnectionError{Op: "dial", Err: err}
	}

	wc := &wsConn{
		conn:   c,
		events: make(chan events.Envelope, 32),
	}
	go wc.readPump()
	return wc, nil
}

// wsConn adapts a coder/websocket connection to the Conn contract.
type wsConn struct {
	conn   *websocket.Conn
	events chan events.Envelope

	closeOnce sync.Once
}

// Emit writes one envelope as a JSON text frame.
func (c *wsConn) Emit(ctx context.Context, event string, payload any) error {
	env, err := events.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &domain.ConnectionError{Op: "emit " + event, Err: err}
	}
	return nil
}

// Events returns the inbound stream; closed when the connection drops.
func (c *wsConn) Events() <-chan events.Envelope {
	return c.events
}

// Close tears the websocket down, which also ends the read pump.
func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

// readPump reads frames into the event channel until the connection fails,
// then closes the channel to signal the drop. All reads happen on this one
// goroutine.
func (c *wsConn) readPump() {
	defer c.closeOnce.Do(func() { close(c.events) })

	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				slog.Debug("Realtime websocket closed", "status", status)
			} else {
				slog.Warn("Realtime websocket read failed", "error", err)
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Error("Discarding malformed realtime frame", "error", err)
			continue
		}
		c.events <- env
	}
}
