package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// WSTransport is the production push channel: a websocket dial against the
// server's /ws endpoint.
type WSTransport struct {
	URL  string // e.g. ws://host:8080/ws?event=1
	conn *websocket.Conn
}

func NewWSTransport(url string) *WSTransport {
	return &WSTransport{URL: url}
}

func (t *WSTransport) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, t.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.URL, err)
	}
	t.conn = conn
	return nil
}

func (t *WSTransport) Recv(ctx context.Context) (Notice, error) {
	if t.conn == nil {
		return Notice{}, fmt.Errorf("not connected")
	}
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return Notice{}, err
	}
	var n Notice
	if err := json.Unmarshal(data, &n); err != nil {
		return Notice{}, fmt.Errorf("decode notice: %w", err)
	}
	return n, nil
}

func (t *WSTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close(websocket.StatusNormalClosure, "bye")
	t.conn = nil
	return err
}
