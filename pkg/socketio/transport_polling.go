package socketio

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/chatwidget/pkg/httpclient"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const pollingContentType = "text/plain;charset=UTF-8"

// PollingTransport speaks Engine.IO over HTTP long-polling.
type PollingTransport struct {
	client *retryablehttp.Client
}

var _ Transport = &PollingTransport{}

func NewPollingTransport() *PollingTransport {
	return &PollingTransport{
		client: httpclient.New(httpclient.Options{Component: "socketio.polling", RetryMax: 1}),
	}
}

func (p *PollingTransport) Name() string { return TransportPolling }

func (p *PollingTransport) Dial(ctx context.Context, target Target) (Conn, error) {
	packets, err := pollOnce(ctx, p.client, target.URL(TransportPolling, ""), target.Header)
	if err != nil {
		return nil, errors.Wrap(err, "polling handshake failed")
	}
	if len(packets) == 0 || packets[0].Type != EngineOpen {
		return nil, errors.New("polling handshake: expected open packet")
	}
	op, err := ParseOpenPayload(packets[0].Data)
	if err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithCancel(context.Background())
	log.Debug().Str("component", "socketio").Str("sid", op.SID).Msg("polling connected")
	return &pollingConn{
		client: p.client,
		target: target,
		sid:    op.SID,
		queue:  packets,
		ctx:    connCtx,
		cancel: cancel,
	}, nil
}

type pollingConn struct {
	client *retryablehttp.Client
	target Target
	sid    string

	// queue holds packets already received but not yet read
	queue []EnginePacket

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (c *pollingConn) ReadPacket(timeout time.Duration) (EnginePacket, error) {
	for len(c.queue) == 0 {
		ctx := c.ctx
		var cancel context.CancelFunc = func() {}
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
		}
		packets, err := pollOnce(ctx, c.client, c.target.URL(TransportPolling, c.sid), c.target.Header)
		cancel()
		if err != nil {
			return EnginePacket{}, err
		}
		c.queue = append(c.queue, packets...)
	}
	p := c.queue[0]
	c.queue = c.queue[1:]
	return p, nil
}

func (c *pollingConn) WritePacket(p EnginePacket) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.post(c.ctx, p)
}

func (c *pollingConn) post(ctx context.Context, p EnginePacket) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.target.URL(TransportPolling, c.sid), []byte(EncodePayload([]EnginePacket{p})))
	if err != nil {
		return errors.Wrap(err, "polling: build post")
	}
	copyHeader(req.Header, c.target.Header)
	req.Header.Set("Content-Type", pollingContentType)
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "polling: post")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("polling: post returned %s", resp.Status)
	}
	return nil
}

func (c *pollingConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.writeMu.Lock()
	err := c.post(ctx, EnginePacket{Type: EngineClose})
	c.writeMu.Unlock()
	c.cancel()
	if err != nil {
		log.Debug().Str("component", "socketio").Err(err).Msg("polling close post failed")
	}
	return nil
}

func pollOnce(ctx context.Context, client *retryablehttp.Client, u string, header http.Header) ([]EnginePacket, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "polling: build get")
	}
	copyHeader(req.Header, header)
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "polling: get")
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "polling: read body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("polling: get returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return DecodePayload(string(body))
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
