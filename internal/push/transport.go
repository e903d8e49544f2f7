package push

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Conn is one established socket connection. Read returns the raw
// message so the manager can drop malformed frames without treating
// them as transport failures.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, f Frame) error
	Ping(ctx context.Context) error
	Close() error
}

// Transport dials connections. Swapped for a fake in tests.
type Transport interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketTransport dials real websocket connections.
type WebsocketTransport struct{}

func (WebsocketTransport) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(1 << 20)
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) WriteFrame(ctx context.Context, f Frame) error {
	return wsjson.Write(ctx, c.conn, f)
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
