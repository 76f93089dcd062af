package cmds

import (
	"time"

	"github.com/go-go-golems/chatwidget/pkg/connection"
	"github.com/go-go-golems/chatwidget/pkg/socketio"
	"github.com/go-go-golems/chatwidget/pkg/transcript"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const (
	SocketSlug = "socket"
	StoreSlug  = "store"

	// EndpointEnv is read when --endpoint is not given.
	EndpointEnv = "CHATWIDGET_ENDPOINT"
)

type SocketSettings struct {
	Reconnection           bool     `glazed:"reconnection"`
	ReconnectionAttempts   int      `glazed:"reconnection-attempts"`
	ReconnectionDelayMs    int      `glazed:"reconnection-delay-ms"`
	TimeoutMs              int      `glazed:"timeout-ms"`
	Transports             []string `glazed:"transports"`
	SocketPath             string   `glazed:"socket-path"`
	QueueWhileDisconnected bool     `glazed:"queue-while-disconnected"`
}

func (s SocketSettings) Options() connection.Options {
	o := connection.DefaultOptions()
	o.Reconnection = s.Reconnection
	o.ReconnectionAttempts = s.ReconnectionAttempts
	o.ReconnectionDelay = time.Duration(s.ReconnectionDelayMs) * time.Millisecond
	o.Timeout = time.Duration(s.TimeoutMs) * time.Millisecond
	if len(s.Transports) > 0 {
		o.Transports = s.Transports
	}
	if s.SocketPath != "" {
		o.Path = s.SocketPath
	}
	o.QueueWhileDisconnected = s.QueueWhileDisconnected
	return o
}

func NewSocketSection() (schema.Section, error) {
	d := connection.DefaultOptions()
	return schema.NewSection(
		SocketSlug,
		"Socket.IO connection",
		schema.WithFields(
			fields.New("reconnection", fields.TypeBool, fields.WithDefault(d.Reconnection),
				fields.WithHelp("Reconnect automatically after a failure")),
			fields.New("reconnection-attempts", fields.TypeInteger, fields.WithDefault(d.ReconnectionAttempts),
				fields.WithHelp("Retries after a failure before giving up (negative retries forever)")),
			fields.New("reconnection-delay-ms", fields.TypeInteger, fields.WithDefault(int(d.ReconnectionDelay/time.Millisecond)),
				fields.WithHelp("Delay between reconnection attempts")),
			fields.New("timeout-ms", fields.TypeInteger, fields.WithDefault(int(d.Timeout/time.Millisecond)),
				fields.WithHelp("Timeout of a single connection attempt")),
			fields.New("transports", fields.TypeStringList,
				fields.WithDefault([]string{socketio.TransportWebsocket, socketio.TransportPolling}),
				fields.WithHelp("Transports tried in order (websocket, polling)")),
			fields.New("socket-path", fields.TypeString, fields.WithDefault(socketio.DefaultPath),
				fields.WithHelp("Engine.IO mount path on the server")),
			fields.New("queue-while-disconnected", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Hold messages sent while reconnecting instead of rejecting them")),
		),
	)
}

type StoreSettings struct {
	TranscriptDB string `glazed:"transcript-db"`
	ConvID       string `glazed:"conv-id"`
}

// Open returns the transcript store: SQLite when a database path is set,
// in memory otherwise.
func (s StoreSettings) Open(endpoint string) (transcript.Store, string, error) {
	if s.TranscriptDB == "" {
		return transcript.NewInMemoryStore(), s.ConvID, nil
	}
	dsn, err := transcript.SQLiteDSNForFile(s.TranscriptDB)
	if err != nil {
		return nil, "", err
	}
	st, err := transcript.NewSQLiteStore(dsn, transcript.SQLiteOptions{ConvID: s.ConvID, Endpoint: endpoint})
	if err != nil {
		return nil, "", err
	}
	return st, st.ConvID(), nil
}

func NewStoreSection() (schema.Section, error) {
	return schema.NewSection(
		StoreSlug,
		"Transcript persistence",
		schema.WithFields(
			fields.New("transcript-db", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("SQLite file keeping transcripts across restarts (empty keeps them in memory)")),
			fields.New("conv-id", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Conversation to resume (empty starts a new one)")),
		),
	)
}
