package transcript

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// InMemoryStore keeps the transcript for the lifetime of the process.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages []Message
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, msg Message) (Message, error) {
	if s == nil {
		return Message{}, errors.New("in-memory transcript store: nil store")
	}
	msg = normalizeMessage(msg, time.Now())
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return msg, nil
}

func (s *InMemoryStore) All(ctx context.Context) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		if s == nil {
			return
		}
		s.mu.RLock()
		n := len(s.messages)
		s.mu.RUnlock()
		for i := 0; i < n; i++ {
			if ctx != nil && ctx.Err() != nil {
				return
			}
			s.mu.RLock()
			msg := s.messages[i]
			s.mu.RUnlock()
			if !yield(msg) {
				return
			}
		}
	}
}

func (s *InMemoryStore) Len(context.Context) (int, error) {
	if s == nil {
		return 0, errors.New("in-memory transcript store: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages), nil
}

func (s *InMemoryStore) Close() error { return nil }
