package transcript

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s Store) []Message {
	t.Helper()
	var out []Message
	for m := range s.All(context.Background()) {
		out = append(out, m)
	}
	return out
}

func newSQLiteStore(t *testing.T, path string, opts SQLiteOptions) *SQLiteStore {
	t.Helper()
	dsn, err := SQLiteDSNForFile(path)
	require.NoError(t, err)
	s, err := NewSQLiteStore(dsn, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": newSQLiteStore(t, filepath.Join(t.TempDir(), "transcript.db"), SQLiteOptions{Endpoint: "http://localhost/chat-bot"}),
	}
}

func TestStore_AppendPreservesOrder(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := s.Append(ctx, NewMessage(RoleUser, "hello"))
			require.NoError(t, err)
			require.NotEmpty(t, first.ID)
			require.False(t, first.CreatedAt.IsZero())

			_, err = s.Append(ctx, NewMessage(RoleAgent, "Hi, see https://example.com."))
			require.NoError(t, err)
			_, err = s.Append(ctx, Message{ID: "fixed", Role: RoleUser, Content: "again"})
			require.NoError(t, err)

			got := collect(t, s)
			require.Len(t, got, 3)
			require.Equal(t, first.ID, got[0].ID)
			require.Equal(t, RoleUser, got[0].Role)
			require.Equal(t, "hello", got[0].Content)
			require.Equal(t, RoleAgent, got[1].Role)
			require.Equal(t, "Hi, see https://example.com.", got[1].Content)
			require.Equal(t, "fixed", got[2].ID)

			n, err := s.Len(ctx)
			require.NoError(t, err)
			require.Equal(t, 3, n)

			// All is restartable
			require.Equal(t, got, collect(t, s))
		})
	}
}

func TestStore_EarlyBreak(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, c := range []string{"a", "b", "c"} {
				_, err := s.Append(ctx, NewMessage(RoleUser, c))
				require.NoError(t, err)
			}
			var seen []string
			for m := range s.All(ctx) {
				seen = append(seen, m.Content)
				if len(seen) == 2 {
					break
				}
			}
			require.Equal(t, []string{"a", "b"}, seen)
		})
	}
}

func TestInMemoryStore_ConcurrentAppends(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(context.Background(), NewMessage(RoleAgent, "x"))
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	n, err := s.Len(context.Background())
	require.NoError(t, err)
	require.Equal(t, 20, n)
}

func TestSQLiteStore_ResumeAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.db")
	ctx := context.Background()

	first := newSQLiteStore(t, path, SQLiteOptions{Endpoint: "http://a/chat-bot"})
	created := time.UnixMilli(1_700_000_000_000)
	_, err := first.Append(ctx, Message{Role: RoleUser, Content: "one", CreatedAt: created})
	require.NoError(t, err)
	convID := first.ConvID()
	require.NoError(t, first.Close())

	resumed := newSQLiteStore(t, path, SQLiteOptions{ConvID: convID})
	_, err = resumed.Append(ctx, NewMessage(RoleAgent, "two"))
	require.NoError(t, err)
	got := collect(t, resumed)
	require.Len(t, got, 2)
	require.Equal(t, "one", got[0].Content)
	require.Equal(t, created.UnixMilli(), got[0].CreatedAt.UnixMilli())
	require.Equal(t, "two", got[1].Content)

	other := newSQLiteStore(t, path, SQLiteOptions{})
	require.NotEqual(t, convID, other.ConvID())
	n, err := other.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	dsn, err := SQLiteDSNForFile(path)
	require.NoError(t, err)
	index, err := OpenSQLiteIndex(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	records, err := index.ListConversations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	byID := map[string]ConversationRecord{}
	for _, r := range records {
		byID[r.ConvID] = r
	}
	require.Equal(t, 2, byID[convID].MessageCount)
	require.Equal(t, "http://a/chat-bot", byID[convID].Endpoint)
	require.Equal(t, 0, byID[other.ConvID()].MessageCount)

	var contents []string
	for m := range index.Conversation(ctx, convID) {
		contents = append(contents, m.Content)
	}
	require.Equal(t, []string{"one", "two"}, contents)

	_, err = index.Append(ctx, NewMessage(RoleUser, "nope"))
	require.Error(t, err)
}

func TestSQLiteStore_EmptyDSN(t *testing.T) {
	_, err := NewSQLiteStore("", SQLiteOptions{})
	require.Error(t, err)
	_, err = SQLiteDSNForFile("")
	require.Error(t, err)
}
