package assembler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-go-golems/chatwidget/pkg/transcript"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestAssembler() (*Assembler, *transcript.InMemoryStore) {
	store := transcript.NewInMemoryStore()
	return New(store, DefaultProtocol()), store
}

func messages(t *testing.T, s transcript.Store) []transcript.Message {
	t.Helper()
	var out []transcript.Message
	for m := range s.All(context.Background()) {
		out = append(out, m)
	}
	return out
}

func TestAssembler_FragmentsThenSentinel(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	out, err := a.Fragment(ctx, "Hello")
	require.NoError(t, err)
	require.Equal(t, ActionAppended, out.Action)
	require.True(t, a.Streaming())

	_, err = a.Fragment(ctx, " world")
	require.NoError(t, err)
	require.Equal(t, "Hello world", a.Content())

	out, err = a.Fragment(ctx, DefaultEndSentinel)
	require.NoError(t, err)
	require.Equal(t, ActionFinalized, out.Action)
	require.NotNil(t, out.Message)
	require.Equal(t, "Hello world", out.Message.Content)
	require.False(t, a.Streaming())
	require.Empty(t, a.Content())

	got := messages(t, store)
	require.Len(t, got, 1)
	require.Equal(t, transcript.RoleAgent, got[0].Role)
	require.Equal(t, "Hello world", got[0].Content)
}

func TestAssembler_ResponseEndFinalizes(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	for _, f := range []string{"a", "b", "c"} {
		_, err := a.Fragment(ctx, f)
		require.NoError(t, err)
	}
	out, err := a.End(ctx)
	require.NoError(t, err)
	require.Equal(t, ActionFinalized, out.Action)
	require.Equal(t, "abc", messages(t, store)[0].Content)
}

func TestAssembler_IgnorableFragmentOnly(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	out, err := a.Fragment(ctx, DefaultIgnorableFragment)
	require.NoError(t, err)
	require.Equal(t, ActionIgnored, out.Action)
	require.False(t, a.Streaming())

	out, err = a.End(ctx)
	require.NoError(t, err)
	require.Equal(t, ActionNoop, out.Action)
	require.Empty(t, messages(t, store))
}

func TestAssembler_IgnorableNeverInContent(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	for _, f := range []string{DefaultIgnorableFragment, "Hi", DefaultIgnorableFragment, " there"} {
		_, err := a.Fragment(ctx, f)
		require.NoError(t, err)
	}
	_, err := a.Fragment(ctx, DefaultEndSentinel)
	require.NoError(t, err)

	got := messages(t, store)
	require.Len(t, got, 1)
	require.Equal(t, "Hi there", got[0].Content)
	require.NotContains(t, got[0].Content, DefaultIgnorableFragment)
	require.NotContains(t, got[0].Content, DefaultEndSentinel)
}

func TestAssembler_DoubleTerminalProducesOneMessage(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	_, err := a.Fragment(ctx, "Answer")
	require.NoError(t, err)
	out, err := a.Fragment(ctx, DefaultEndSentinel)
	require.NoError(t, err)
	require.Equal(t, ActionFinalized, out.Action)

	out, err = a.End(ctx)
	require.NoError(t, err)
	require.Equal(t, ActionNoop, out.Action)

	out, err = a.Fragment(ctx, DefaultEndSentinel)
	require.NoError(t, err)
	require.Equal(t, ActionNoop, out.Action)

	require.Len(t, messages(t, store), 1)
}

func TestAssembler_AnyTerminalInterleaving(t *testing.T) {
	terminals := map[string]func(a *Assembler) (Outcome, error){
		"sentinel": func(a *Assembler) (Outcome, error) { return a.Fragment(context.Background(), DefaultEndSentinel) },
		"end":      func(a *Assembler) (Outcome, error) { return a.End(context.Background()) },
	}
	for firstName, first := range terminals {
		for secondName, second := range terminals {
			t.Run(firstName+"_"+secondName, func(t *testing.T) {
				a, store := newTestAssembler()
				fragments := []string{"The ", "answer ", "is ", "42."}
				for _, f := range fragments {
					_, err := a.Fragment(context.Background(), f)
					require.NoError(t, err)
				}
				_, err := first(a)
				require.NoError(t, err)
				_, err = second(a)
				require.NoError(t, err)

				got := messages(t, store)
				require.Len(t, got, 1)
				require.Equal(t, strings.Join(fragments, ""), got[0].Content)
			})
		}
	}
}

func TestAssembler_EmptyFragmentIsNotTerminal(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	_, err := a.Fragment(ctx, "part one")
	require.NoError(t, err)
	out, err := a.Fragment(ctx, "")
	require.NoError(t, err)
	require.Equal(t, ActionAppended, out.Action)
	require.Empty(t, messages(t, store))

	_, err = a.Fragment(ctx, ", part two")
	require.NoError(t, err)
	_, err = a.End(ctx)
	require.NoError(t, err)
	require.Equal(t, "part one, part two", messages(t, store)[0].Content)
}

func TestAssembler_EmptyFragmentAloneFinalizesNothing(t *testing.T) {
	a, store := newTestAssembler()
	_, err := a.Fragment(context.Background(), "")
	require.NoError(t, err)
	require.True(t, a.Streaming())

	out, err := a.End(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionNoop, out.Action)
	require.False(t, a.Streaming())
	require.Empty(t, messages(t, store))
}

func TestAssembler_Thinking(t *testing.T) {
	a, _ := newTestAssembler()
	ctx := context.Background()

	a.BeginTurn()
	require.True(t, a.Thinking())

	_, err := a.Fragment(ctx, DefaultIgnorableFragment)
	require.NoError(t, err)
	require.True(t, a.Thinking(), "status fragments are not content")

	_, err = a.Fragment(ctx, "first")
	require.NoError(t, err)
	require.False(t, a.Thinking())

	a.BeginTurn()
	a.ClearThinking()
	require.False(t, a.Thinking())
}

func TestAssembler_Abandon(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	_, err := a.Fragment(ctx, "half a reply")
	require.NoError(t, err)
	require.Equal(t, "half a reply", a.Abandon())
	require.False(t, a.Streaming())

	out, err := a.End(ctx)
	require.NoError(t, err)
	require.Equal(t, ActionNoop, out.Action)
	require.Empty(t, messages(t, store))
}

type failingSink struct {
	fail bool
	got  []transcript.Message
}

func (f *failingSink) Append(_ context.Context, msg transcript.Message) (transcript.Message, error) {
	if f.fail {
		return transcript.Message{}, errors.New("disk full")
	}
	f.got = append(f.got, msg)
	return msg, nil
}

func TestAssembler_SinkFailureKeepsBuffer(t *testing.T) {
	sink := &failingSink{fail: true}
	a := New(sink, DefaultProtocol())
	ctx := context.Background()

	_, err := a.Fragment(ctx, "keep me")
	require.NoError(t, err)
	_, err = a.End(ctx)
	require.Error(t, err)
	require.Equal(t, "keep me", a.Content())

	sink.fail = false
	out, err := a.End(ctx)
	require.NoError(t, err)
	require.Equal(t, ActionFinalized, out.Action)
	require.Len(t, sink.got, 1)
}

func TestAssembler_HandleEvent(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	out, err := a.HandleEvent(ctx, "response", json.RawMessage(`{"message":"Hi"}`))
	require.NoError(t, err)
	require.Equal(t, ActionAppended, out.Action)
	require.Equal(t, "Hi", out.Fragment)

	out, err = a.HandleEvent(ctx, "response", json.RawMessage(`"!"`))
	require.NoError(t, err)
	require.Equal(t, ActionAppended, out.Action)

	out, err = a.HandleEvent(ctx, "response", json.RawMessage(`{"other":1}`))
	require.NoError(t, err)
	require.Equal(t, ActionIgnored, out.Action)

	out, err = a.HandleEvent(ctx, "unrelated", nil)
	require.NoError(t, err)
	require.Equal(t, ActionNone, out.Action)

	out, err = a.HandleEvent(ctx, "response_end", nil)
	require.NoError(t, err)
	require.Equal(t, ActionFinalized, out.Action)
	require.Equal(t, "Hi!", messages(t, store)[0].Content)
}

func TestLoadProtocol(t *testing.T) {
	p, err := LoadProtocol("")
	require.NoError(t, err)
	require.Equal(t, DefaultProtocol(), p)

	path := filepath.Join(t.TempDir(), "protocol.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
response_event: chunk
end_sentinels: ["[DONE]"]
ignorable_fragments: []
`), 0o644))
	p, err = LoadProtocol(path)
	require.NoError(t, err)
	require.Equal(t, "chunk", p.ResponseEvent)
	require.Equal(t, DefaultResponseEndEvent, p.ResponseEndEvent)
	require.Equal(t, DefaultMessageEvent, p.MessageEvent)
	require.Equal(t, []string{"[DONE]"}, p.EndSentinels)
	require.Empty(t, p.IgnorableFragments)

	a := New(transcript.NewInMemoryStore(), p)
	_, err = a.Fragment(context.Background(), DefaultIgnorableFragment)
	require.NoError(t, err)
	require.Equal(t, DefaultIgnorableFragment, a.Content())

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("response_event: ''\n"), 0o644))
	_, err = LoadProtocol(bad)
	require.Error(t, err)

	_, err = LoadProtocol(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
