package socketio

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrServerDisconnect is returned by Next when the server closed the namespace or the engine session.
	ErrServerDisconnect = errors.New("socketio: io server disconnect")
	ErrClientClosed     = errors.New("socketio: io client disconnect")
)

// ConnectError is returned when the server answered the namespace CONNECT with CONNECT_ERROR.
type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string {
	return "socketio: connect error: " + e.Message
}

type DialOptions struct {
	// Transports are tried in order until one completes the handshake.
	Transports []string
	// Timeout bounds the whole handshake of one transport.
	Timeout time.Duration
	Auth    any
}

// Client is one connected Socket.IO namespace.
//
// Next must be called from a single goroutine. Emit and Close may be called
// from any goroutine.
type Client struct {
	conn      Conn
	transport string
	namespace string
	open      OpenPayload
}

// Dial connects to the namespace of target, falling back through the
// configured transports.
func Dial(ctx context.Context, target Target, opts DialOptions) (*Client, error) {
	names := opts.Transports
	if len(names) == 0 {
		names = []string{TransportWebsocket, TransportPolling}
	}
	var lastErr error
	for _, name := range names {
		tr, err := TransportByName(name)
		if err != nil {
			return nil, err
		}
		c, err := dialTransport(ctx, tr, target, opts)
		if err == nil {
			return c, nil
		}
		var ce *ConnectError
		if errors.As(err, &ce) {
			// the server was reached and refused; another transport will not help
			return nil, err
		}
		log.Debug().Str("component", "socketio").Str("transport", name).Err(err).Msg("transport failed")
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func dialTransport(ctx context.Context, tr Transport, target Target, opts DialOptions) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	deadline := time.Now().Add(timeout)
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := tr.Dial(dctx, target)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, transport: tr.Name(), namespace: target.Namespace}
	// reads below only honour the deadline; closing the conn unblocks them
	// when ctx is cancelled first
	stop := context.AfterFunc(dctx, func() { _ = conn.Close() })
	err = c.handshake(dctx, deadline, opts.Auth)
	if !stop() {
		if err == nil {
			err = errors.Wrap(dctx.Err(), "socketio: handshake cancelled")
		}
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(ctx context.Context, deadline time.Time, auth any) error {
	p, err := c.conn.ReadPacket(time.Until(deadline))
	if err != nil {
		return errors.Wrap(err, "socketio: read open packet")
	}
	if p.Type != EngineOpen {
		return errors.Errorf("socketio: expected open packet, got %q", byte(p.Type))
	}
	if c.open, err = ParseOpenPayload(p.Data); err != nil {
		return err
	}

	connect, err := NewConnect(c.namespace, auth)
	if err != nil {
		return err
	}
	if err := c.writeMessage(connect); err != nil {
		return errors.Wrap(err, "socketio: send connect")
	}

	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "socketio: connect timeout")
		}
		ep, err := c.conn.ReadPacket(time.Until(deadline))
		if err != nil {
			return errors.Wrap(err, "socketio: await connect")
		}
		switch ep.Type {
		case EnginePing:
			if err := c.conn.WritePacket(EnginePacket{Type: EnginePong, Data: ep.Data}); err != nil {
				return err
			}
			continue
		case EngineClose:
			return ErrServerDisconnect
		case EngineMessage:
		default:
			continue
		}
		sp, err := ParsePacket(ep.Data)
		if err != nil {
			return err
		}
		if sp.Namespace != c.namespace {
			continue
		}
		switch sp.Type {
		case PacketConnect:
			log.Debug().Str("component", "socketio").
				Str("transport", c.transport).
				Str("namespace", c.namespace).
				Str("sid", c.open.SID).
				Msg("namespace connected")
			return nil
		case PacketConnectError:
			return &ConnectError{Message: sp.ConnectErrorMessage()}
		}
	}
}

// Transport names the transport that completed the handshake.
func (c *Client) Transport() string { return c.transport }

func (c *Client) SID() string { return c.open.SID }

// Next returns the next packet addressed to this namespace, answering engine
// pings on the way. A silent server is reported once pingInterval+pingTimeout
// has elapsed.
func (c *Client) Next() (Packet, error) {
	wait := time.Duration(c.open.PingInterval+c.open.PingTimeout) * time.Millisecond
	for {
		ep, err := c.conn.ReadPacket(wait)
		if err != nil {
			return Packet{}, err
		}
		switch ep.Type {
		case EnginePing:
			if err := c.conn.WritePacket(EnginePacket{Type: EnginePong, Data: ep.Data}); err != nil {
				return Packet{}, err
			}
			continue
		case EngineClose:
			return Packet{}, ErrServerDisconnect
		case EngineMessage:
		default:
			continue
		}
		sp, err := ParsePacket(ep.Data)
		if err != nil {
			log.Warn().Str("component", "socketio").Err(err).Msg("dropping malformed packet")
			continue
		}
		if sp.Namespace != c.namespace {
			continue
		}
		if sp.Type == PacketDisconnect {
			return Packet{}, ErrServerDisconnect
		}
		return sp, nil
	}
}

// Emit sends an event to the namespace.
func (c *Client) Emit(event string, payload any) error {
	p, err := NewEvent(c.namespace, event, payload)
	if err != nil {
		return err
	}
	return c.writeMessage(p)
}

func (c *Client) writeMessage(p Packet) error {
	return c.conn.WritePacket(EnginePacket{Type: EngineMessage, Data: p.Encode()})
}

// Close leaves the namespace and closes the transport.
func (c *Client) Close() error {
	_ = c.writeMessage(Packet{Type: PacketDisconnect, Namespace: c.namespace, AckID: -1})
	return c.conn.Close()
}
