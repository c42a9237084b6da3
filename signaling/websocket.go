package signaling

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// maxFrameBytes bounds a single inbound frame.
const maxFrameBytes = 1 << 20

// Conn is one open push connection.
type Conn interface {
	// Read blocks until the next frame arrives or the connection fails.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials the gateway over WebSocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
}

// Dial opens a websocket connection to url.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(maxFrameBytes)
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
