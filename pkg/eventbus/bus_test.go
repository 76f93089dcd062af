package eventbus

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestBus_InMemoryPublishSubscribe(t *testing.T) {
	b, err := New(DefaultSettings(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.Equal(t, DefaultTopic, b.Topic())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	records, err := b.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Publish(Record{Kind: RecordMessage, ConvID: "c1", Role: "agent", Content: "Hello world"}))
	require.NoError(t, b.Publish(Record{Kind: RecordState, State: "connected"}))

	// gochannel does not order deliveries across publishes
	got := map[RecordKind]Record{}
	for len(got) < 2 {
		select {
		case r := <-records:
			got[r.Kind] = r
		case <-time.After(2 * time.Second):
			t.Fatalf("received only %d records", len(got))
		}
	}
	require.Equal(t, "Hello world", got[RecordMessage].Content)
	require.False(t, got[RecordMessage].At.IsZero())
	require.Equal(t, "connected", got[RecordState].State)
}

func TestBus_NilIsNoop(t *testing.T) {
	var b *Bus
	require.NoError(t, b.Publish(Record{Kind: RecordNotice}))
	require.NoError(t, b.Close())
}

func TestRecordRoundTrip(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000).UTC()
	b, err := Record{Kind: RecordFragment, Content: "par", At: at}.Marshal()
	require.NoError(t, err)
	r, err := UnmarshalRecord(b)
	require.NoError(t, err)
	require.Equal(t, RecordFragment, r.Kind)
	require.True(t, at.Equal(r.At))

	_, err = UnmarshalRecord([]byte("{"))
	require.Error(t, err)
}

func TestZerologAdapter_With(t *testing.T) {
	a := NewZerologAdapter(zerolog.Nop())
	child := a.With(watermill.LogFields{"topic": "x"})
	require.NotNil(t, child)
	child.Info("hello", watermill.LogFields{"n": 1})
	child.Error("boom", nil, nil)
}

func TestBus_LogsToGivenLogger(t *testing.T) {
	var global, own bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&global)
	t.Cleanup(func() { log.Logger = prev })

	b, err := New(DefaultSettings(), zerolog.New(&own).Level(zerolog.DebugLevel))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	require.Contains(t, own.String(), `"component":"eventbus"`)
	require.Contains(t, own.String(), "mirroring events in memory")
	require.Empty(t, global.String())
}
