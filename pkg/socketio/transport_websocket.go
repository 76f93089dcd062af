package socketio

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type WebsocketTransport struct {
	dialer *websocket.Dialer
}

var _ Transport = &WebsocketTransport{}

func NewWebsocketTransport() *WebsocketTransport {
	return &WebsocketTransport{
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (w *WebsocketTransport) Name() string { return TransportWebsocket }

func (w *WebsocketTransport) Dial(ctx context.Context, target Target) (Conn, error) {
	u := target.URL(TransportWebsocket, "")
	c, resp, err := w.dialer.DialContext(ctx, u, target.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket dial failed (status %s)", resp.Status)
		}
		return nil, errors.Wrap(err, "websocket dial failed")
	}
	log.Debug().Str("component", "socketio").Str("url", u).Msg("websocket connected")
	return &websocketConn{conn: c}, nil
}

type websocketConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (c *websocketConn) ReadPacket(timeout time.Duration) (EnginePacket, error) {
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return EnginePacket{}, err
		}
		if msgType != websocket.TextMessage {
			// binary attachments are not part of this protocol
			continue
		}
		return ParseEnginePacket(string(data))
	}
}

func (c *websocketConn) WritePacket(p EnginePacket) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(p.Encode()))
}

func (c *websocketConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
