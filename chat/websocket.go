package chat

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebsocketDialer connects to a websocket whose text frames are chat lines.
type WebsocketDialer struct {
	URL    string
	Header http.Header
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (d *WebsocketDialer) Source() string { return "ws" }

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	return dialWebsocket(ctx, d.Dialer, d.URL, d.Header)
}

func dialWebsocket(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header) (*wsConn, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Next(_ context.Context) (string, error) {
	_, msg, err := w.c.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(msg), nil
}

func (w *wsConn) send(msg []byte) error {
	return w.c.WriteMessage(websocket.TextMessage, msg)
}

func (w *wsConn) Close() error { return w.c.Close() }
