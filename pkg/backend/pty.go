package backend

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// PTY opens an interactive terminal session in a sandbox. Terminal data
// travels as binary frames in both directions; resizes are JSON text
// frames from the client.
func (c *Client) PTY(ctx context.Context, sandboxID string, cols, rows int) (PTYStream, error) {
	conn, err := c.dialWS(ctx, fmt.Sprintf("/api/sandboxes/%s/pty?cols=%d&rows=%d", sandboxID, cols, rows))
	if err != nil {
		return nil, err
	}
	return &wsPTY{conn: conn}, nil
}

type wsPTY struct {
	conn *websocket.Conn

	// leftover holds the unread tail of the last binary frame when the
	// caller's buffer was smaller than the frame.
	leftover []byte
}

type ptyResize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (p *wsPTY) Read(buf []byte) (int, error) {
	if len(p.leftover) == 0 {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		p.leftover = data
	}
	n := copy(buf, p.leftover)
	p.leftover = p.leftover[n:]
	return n, nil
}

func (p *wsPTY) Write(buf []byte) (int, error) {
	if err := p.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (p *wsPTY) Resize(cols, rows int) error {
	return p.conn.WriteJSON(ptyResize{Cols: cols, Rows: rows})
}

func (p *wsPTY) Close() error {
	return p.conn.Close()
}
