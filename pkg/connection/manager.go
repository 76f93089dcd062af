package connection

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-go-golems/chatwidget/pkg/socketio"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingEndpoint = errors.New("socket URL is not defined")
	ErrInvalidEndpoint = errors.New("invalid socket URL")
	ErrNotConnected    = errors.New("connection not established")
	ErrAlreadyRunning  = errors.New("connection manager already running")
)

// ErrReconnectionDisabled is the cause of EventReconnectFailed when a failure
// ends a run that has reconnection turned off.
var ErrReconnectionDisabled = errors.New("reconnection disabled")

type outbound struct {
	event   string
	payload any
}

// Manager owns one Socket.IO session: it connects, retries with a fixed
// delay, and reports every lifecycle change and inbound event, in order, on
// Events.
type Manager struct {
	opts   Options
	events chan Event

	mu       sync.Mutex
	state    State
	client   *socketio.Client
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
	endpoint string
	queue    []outbound
}

func NewManager(opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:   opts,
		events: make(chan Event, opts.EventBuffer),
		state:  StateDisconnected,
	}
}

// Events is never closed; it is shared across Connect/Disconnect cycles.
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) State() State {
	if m == nil {
		return StateDisconnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Endpoint returns the endpoint of the last successful Connect call.
func (m *Manager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Connect validates the endpoint and starts connecting in the background.
// Only configuration errors are returned; transport failures are reported
// as EventConnectError.
func (m *Manager) Connect(ctx context.Context, endpoint string) error {
	if m == nil {
		return errors.New("connection: nil manager")
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ErrMissingEndpoint
	}
	target, err := socketio.ParseEndpoint(endpoint, m.opts.Path)
	if err != nil {
		return errors.Wrap(ErrInvalidEndpoint, err.Error())
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.endpoint = endpoint
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	log.Info().Str("component", "connection").
		Str("endpoint", endpoint).
		Str("namespace", target.Namespace).
		Strs("transports", m.opts.Transports).
		Msg("connecting")
	go m.run(runCtx, target, done)
	return nil
}

// Send emits an application event on the live session.
func (m *Manager) Send(event string, payload any) error {
	if m == nil {
		return ErrNotConnected
	}
	m.mu.Lock()
	client := m.client
	if client == nil || m.state != StateConnected {
		if m.opts.QueueWhileDisconnected && m.running {
			if len(m.queue) >= maxQueued {
				log.Warn().Str("component", "connection").Str("event", m.queue[0].event).Msg("send queue full, dropping oldest")
				m.queue = m.queue[1:]
			}
			m.queue = append(m.queue, outbound{event: event, payload: payload})
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.mu.Unlock()

	if err := client.Emit(event, payload); err != nil {
		return errors.Wrapf(err, "send %s", event)
	}
	return nil
}

// Disconnect stops retries and closes the session. It is safe to call more
// than once; only the first call on a running manager emits anything.
func (m *Manager) Disconnect() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	// cancel under the lock so serve either sees the cancellation or
	// publishes its client before we read it
	m.cancel()
	client := m.client
	done := m.done
	m.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	<-done

	m.mu.Lock()
	m.running = false
	m.cancel = nil
	m.queue = nil
	m.mu.Unlock()
	m.setState(context.Background(), StateDisconnected)
	m.emitNonBlocking(Event{Kind: EventDisconnect, State: StateDisconnected, Err: socketio.ErrClientClosed})
	log.Info().Str("component", "connection").Msg("disconnected by client")
}

func (m *Manager) run(ctx context.Context, target socketio.Target, done chan struct{}) {
	defer close(done)

	var policy backoff.BackOff = backoff.NewConstantBackOff(m.opts.ReconnectionDelay)
	if m.opts.ReconnectionAttempts >= 0 {
		policy = backoff.WithMaxRetries(policy, uint64(m.opts.ReconnectionAttempts))
	}
	retry := backoff.WithContext(policy, ctx)

	dialOpts := socketio.DialOptions{Transports: m.opts.Transports, Timeout: m.opts.Timeout}
	m.setState(ctx, StateConnecting)

	for {
		client, err := socketio.Dial(ctx, target, dialOpts)
		if ctx.Err() != nil {
			if client != nil {
				_ = client.Close()
			}
			return
		}
		if err == nil {
			retry.Reset()
			readErr := m.serve(ctx, client)
			if ctx.Err() != nil {
				return
			}
			log.Warn().Str("component", "connection").Err(readErr).Msg("connection lost")
			m.detach(client)
			next := StateDisconnected
			if m.opts.Reconnection && m.opts.ReconnectionAttempts != 0 {
				next = StateReconnecting
			}
			m.setState(ctx, next)
			m.emit(ctx, Event{Kind: EventDisconnect, State: next, Err: readErr})
		}

		wait := backoff.Stop
		if m.opts.Reconnection {
			wait = retry.NextBackOff()
		}
		if err != nil {
			log.Warn().Str("component", "connection").Err(err).Msg("connect failed")
			m.emit(ctx, Event{Kind: EventConnectError, State: m.State(), Err: err, Retrying: wait != backoff.Stop})
		}
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				return
			}
			cause := ErrReconnectionDisabled
			if m.opts.Reconnection {
				cause = errors.Errorf("gave up after %d reconnection attempts", m.opts.ReconnectionAttempts)
			}
			m.finish(ctx, cause)
			return
		}
		m.setState(ctx, StateReconnecting)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// serve attaches client as the live session and pumps inbound events until
// the session fails.
func (m *Manager) serve(ctx context.Context, client *socketio.Client) error {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		_ = client.Close()
		return ctx.Err()
	}
	m.client = client
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	log.Info().Str("component", "connection").
		Str("transport", client.Transport()).
		Str("sid", client.SID()).
		Msg("connected")
	m.setState(ctx, StateConnected)
	m.emit(ctx, Event{Kind: EventConnect, State: StateConnected})

	for _, o := range pending {
		if err := client.Emit(o.event, o.payload); err != nil {
			log.Warn().Str("component", "connection").Err(err).Str("event", o.event).Msg("flush queued send failed")
		}
	}

	for {
		p, err := client.Next()
		if err != nil {
			return err
		}
		if p.Type != socketio.PacketEvent {
			continue
		}
		name, args, err := p.Event()
		if err != nil {
			log.Warn().Str("component", "connection").Err(err).Msg("dropping malformed event")
			continue
		}
		ev := Event{Kind: EventMessage, State: StateConnected, Name: name}
		if len(args) > 0 {
			ev.Payload = args[0]
		}
		m.emit(ctx, ev)
	}
}

func (m *Manager) detach(client *socketio.Client) {
	m.mu.Lock()
	if m.client == client {
		m.client = nil
	}
	m.mu.Unlock()
	_ = client.Close()
}

// finish ends a run that stopped on its own, without Disconnect, and always
// reports EventReconnectFailed so consumers know no further attempt follows.
func (m *Manager) finish(ctx context.Context, err error) {
	m.mu.Lock()
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.queue = nil
	m.mu.Unlock()
	m.setState(ctx, StateDisconnected)
	log.Error().Str("component", "connection").Err(err).Msg("reconnection failed")
	m.emit(ctx, Event{Kind: EventReconnectFailed, State: StateDisconnected, Err: err})
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) setState(ctx context.Context, s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()
	log.Debug().Str("component", "connection").Str("state", string(s)).Msg("state changed")
	if ctx.Err() != nil {
		m.emitNonBlocking(Event{Kind: EventState, State: s})
		return
	}
	m.emit(ctx, Event{Kind: EventState, State: s})
}

// emit blocks until the consumer has room, giving up once ctx is cancelled.
func (m *Manager) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

func (m *Manager) emitNonBlocking(ev Event) {
	select {
	case m.events <- ev:
	default:
		log.Warn().Str("component", "connection").Str("kind", string(ev.Kind)).Msg("event buffer full, dropping event")
	}
}
