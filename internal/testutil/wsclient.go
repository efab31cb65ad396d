package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/barlink/internal/chat/protocol"
)

// WSClient is a WebSocket test client speaking the chat protocol.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// DialWS connects to url, which may be an http:// or ws:// address.
//
// Precondition: url must point at a listening WebSocket endpoint.
// Postcondition: Returns a connected client or fails the test. The connection
// is closed on test cleanup.
func DialWS(t *testing.T, url string) *WSClient {
	t.Helper()
	start := time.Now()
	if strings.HasPrefix(url, "http") {
		url = "ws" + strings.TrimPrefix(url, "http")
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v [%s]", url, err, time.Since(start))
	}
	t.Cleanup(func() { _ = conn.Close() })

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send encodes one frame and writes it.
//
// Postcondition: The frame is written or the test fails.
func (c *WSClient) Send(event string, data any) {
	c.t.Helper()
	raw, err := protocol.Encode(event, data)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", event, err)
	}
	c.SendRaw(raw)
}

// SendRaw writes raw as a text message.
func (c *WSClient) SendRaw(raw []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		c.t.Fatalf("writing frame: %v", err)
	}
}

// Expect reads frames until one carries event, discarding the rest.
//
// Postcondition: Returns the matching frame, or fails the test on timeout or
// connection error.
func (c *WSClient) Expect(event string, timeout time.Duration) protocol.Frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	var seen []string
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %s: saw %v, error: %v", event, seen, err)
		}
		f, err := protocol.Decode(raw)
		if err != nil {
			c.t.Fatalf("decoding frame %q: %v", raw, err)
		}
		if f.Event == event {
			return f
		}
		seen = append(seen, f.Event)
	}
}

// ExpectClosed reads until the server closes the connection.
//
// Postcondition: Returns once a read fails; fails the test on timeout.
func (c *WSClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	_ = c.conn.SetReadDeadline(deadline)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if time.Now().After(deadline) {
				c.t.Fatalf("connection still open after %s", timeout)
			}
			return
		}
	}
}

// Close closes the connection.
func (c *WSClient) Close() {
	_ = c.conn.Close()
}
