package cmds

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/chatwidget/pkg/eventbus"
	"github.com/go-go-golems/chatwidget/pkg/transcript"
	"github.com/stretchr/testify/require"
)

func TestSocketSettings_Options(t *testing.T) {
	o := SocketSettings{
		Reconnection:         true,
		ReconnectionAttempts: 3,
		ReconnectionDelayMs:  250,
		TimeoutMs:            2000,
		Transports:           []string{"polling"},
		SocketPath:           "/ws/",
	}.Options()

	require.True(t, o.Reconnection)
	require.Equal(t, 3, o.ReconnectionAttempts)
	require.Equal(t, 250*time.Millisecond, o.ReconnectionDelay)
	require.Equal(t, 2*time.Second, o.Timeout)
	require.Equal(t, []string{"polling"}, o.Transports)
	require.Equal(t, "/ws/", o.Path)
	require.False(t, o.QueueWhileDisconnected)
}

func TestSocketSettings_KeepsDefaultTransports(t *testing.T) {
	o := SocketSettings{}.Options()
	require.Equal(t, []string{"websocket", "polling"}, o.Transports)
	require.Equal(t, "/socket.io/", o.Path)
}

func TestStoreSettings_Open(t *testing.T) {
	ctx := context.Background()

	mem, convID, err := StoreSettings{ConvID: "c1"}.Open("wss://x.test/chat-bot")
	require.NoError(t, err)
	require.IsType(t, &transcript.InMemoryStore{}, mem)
	require.Equal(t, "c1", convID)

	path := filepath.Join(t.TempDir(), "chat.db")
	st, convID, err := StoreSettings{TranscriptDB: path}.Open("wss://x.test/chat-bot")
	require.NoError(t, err)
	require.NotEmpty(t, convID)
	_, err = st.Append(ctx, transcript.NewMessage(transcript.RoleUser, "hello"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	resumed, again, err := StoreSettings{TranscriptDB: path, ConvID: convID}.Open("wss://x.test/chat-bot")
	require.NoError(t, err)
	defer func() { _ = resumed.Close() }()
	require.Equal(t, convID, again)
	n, err := resumed.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	index, err := openIndex(path)
	require.NoError(t, err)
	defer func() { _ = index.Close() }()
	records, err := index.ListConversations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "wss://x.test/chat-bot", records[0].Endpoint)
}

func TestPrintRecord(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	var buf bytes.Buffer

	require.NoError(t, printRecord(&buf, eventbus.Record{
		Kind: eventbus.RecordMessage, ConvID: "c1", Role: "agent", Content: "Hello world", At: at,
	}, false))
	require.Equal(t, "12:30:00.000 c1 [message] agent: Hello world\n", buf.String())

	buf.Reset()
	require.NoError(t, printRecord(&buf, eventbus.Record{
		Kind: eventbus.RecordFragment, ConvID: "c1", Content: " world", At: at,
	}, false))
	require.Equal(t, "12:30:00.000 c1 [fragment] \" world\"\n", buf.String())

	buf.Reset()
	require.NoError(t, printRecord(&buf, eventbus.Record{Kind: eventbus.RecordState, State: "connected", At: at}, true))
	r, err := eventbus.UnmarshalRecord(bytes.TrimSpace(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, "connected", r.State)
}
