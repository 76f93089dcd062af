package socketio

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	TransportWebsocket = "websocket"
	TransportPolling   = "polling"

	DefaultPath = "/socket.io/"
)

// Conn is an established Engine.IO transport connection.
//
// ReadPacket must only be called from one goroutine. WritePacket is safe for
// concurrent use.
type Conn interface {
	ReadPacket(timeout time.Duration) (EnginePacket, error)
	WritePacket(p EnginePacket) error
	Close() error
}

// Transport dials one kind of Engine.IO connection.
type Transport interface {
	Name() string
	Dial(ctx context.Context, target Target) (Conn, error)
}

// Target is the resolved endpoint of a Socket.IO server.
type Target struct {
	// Base is the server origin, e.g. wss://host:port.
	Base *url.URL
	// Path is the Engine.IO mount path, "/socket.io/" by default.
	Path string
	// Namespace is taken from the endpoint path, "/" when empty.
	Namespace string
	// Query carries extra parameters from the endpoint URL.
	Query  url.Values
	Header http.Header
}

// ParseEndpoint resolves an endpoint URL the way socket.io clients do: the URL
// path names the namespace, the Engine.IO path is configured separately.
func ParseEndpoint(endpoint string, path string) (Target, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Target{}, errors.New("socketio: empty endpoint")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return Target{}, errors.Wrapf(err, "socketio: parse endpoint %q", endpoint)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return Target{}, errors.Errorf("socketio: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return Target{}, errors.Errorf("socketio: endpoint %q has no host", endpoint)
	}
	if path == "" {
		path = DefaultPath
	}
	ns := strings.TrimSuffix(u.Path, "/")
	if ns == "" {
		ns = "/"
	}
	base := &url.URL{Scheme: u.Scheme, Host: u.Host, User: u.User}
	return Target{
		Base:      base,
		Path:      path,
		Namespace: ns,
		Query:     u.Query(),
	}, nil
}

// URL builds the Engine.IO URL for a transport, switching the scheme between
// ws(s) and http(s) as needed.
func (t Target) URL(transport string, sid string) string {
	u := *t.Base
	secure := u.Scheme == "wss" || u.Scheme == "https"
	switch transport {
	case TransportWebsocket:
		u.Scheme = "ws"
		if secure {
			u.Scheme = "wss"
		}
	default:
		u.Scheme = "http"
		if secure {
			u.Scheme = "https"
		}
	}
	u.Path = t.Path
	q := url.Values{}
	for k, vs := range t.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("EIO", "4")
	q.Set("transport", transport)
	if sid != "" {
		q.Set("sid", sid)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// TransportByName returns the transport implementation for a configured name.
func TransportByName(name string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case TransportWebsocket:
		return NewWebsocketTransport(), nil
	case TransportPolling:
		return NewPollingTransport(), nil
	default:
		return nil, errors.Errorf("socketio: unknown transport %q", name)
	}
}
