// Package transcript holds the append-only conversation history shown by the
// widget.
package transcript

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one finalized entry. It is never changed after Append.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// Store is an append-only ordered sequence of messages.
type Store interface {
	// Append stores msg at the end of the transcript, filling ID and
	// CreatedAt when they are empty, and returns the stored copy.
	Append(ctx context.Context, msg Message) (Message, error)
	// All yields messages in insertion order. Each call starts over.
	All(ctx context.Context) iter.Seq[Message]
	Len(ctx context.Context) (int, error)
	Close() error
}

// ConversationRecord describes one persisted transcript.
type ConversationRecord struct {
	ConvID         string `json:"conv_id"`
	Endpoint       string `json:"endpoint"`
	CreatedAtMs    int64  `json:"created_at_ms"`
	LastActivityMs int64  `json:"last_activity_ms"`
	MessageCount   int    `json:"message_count"`
}

func normalizeMessage(msg Message, now time.Time) Message {
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.Role == "" {
		msg.Role = RoleAgent
	}
	return msg
}
