package feed

import (
	"context"
	"errors"
	"fmt"

	"nhooyr.io/websocket"
)

// ErrRemoteClosed marks a read that ended with a close frame from the peer.
var ErrRemoteClosed = errors.New("feed: connection closed by peer")

const defaultReadLimit = 1 << 20

// Conn is one open stream socket.
type Conn interface {
	// Read blocks until the next text frame. A close frame from the peer yields an
	// error wrapping ErrRemoteClosed.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens stream sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with nhooyr.io/websocket.
type WebsocketDialer struct {
	// ReadLimit caps a single frame; 0 means 1 MiB.
	ReadLimit int64
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	ws.SetReadLimit(limit)
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		msgType, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return nil, fmt.Errorf("%w: %v", ErrRemoteClosed, err)
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "shutdown")
}
