package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SQLiteStore persists one conversation's transcript. Several conversations
// may share a database file.
type SQLiteStore struct {
	db       *sql.DB
	convID   string
	endpoint string
}

var _ Store = &SQLiteStore{}

type SQLiteOptions struct {
	// ConvID resumes an existing conversation; empty starts a new one.
	ConvID   string
	Endpoint string
}

func NewSQLiteStore(dsn string, opts SQLiteOptions) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	convID := strings.TrimSpace(opts.ConvID)
	if convID == "" {
		convID = uuid.NewString()
	}
	s := &SQLiteStore{db: db, convID: convID, endpoint: opts.Endpoint}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.touchConversation(context.Background(), time.Now()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLiteIndex opens a database for listing only.
func OpenSQLiteIndex(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite transcript store: empty path")
	}
	// immediate transactions take the write lock up front so concurrent
	// appends wait on busy_timeout instead of failing the seq read-then-write
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path), nil
}

func (s *SQLiteStore) ConvID() string {
	if s == nil {
		return ""
	}
	return s.convID
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_conversations (
		  conv_id TEXT PRIMARY KEY,
		  endpoint TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL,
		  last_activity_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transcript_messages (
		  conv_id TEXT NOT NULL REFERENCES transcript_conversations(conv_id),
		  seq INTEGER NOT NULL,
		  id TEXT NOT NULL,
		  role TEXT NOT NULL,
		  content TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL,
		  PRIMARY KEY (conv_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_conversations_by_last_activity
		  ON transcript_conversations(last_activity_ms DESC, conv_id ASC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) touchConversation(ctx context.Context, now time.Time) error {
	ms := now.UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_conversations (conv_id, endpoint, created_at_ms, last_activity_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conv_id) DO UPDATE SET
			endpoint = CASE
				WHEN excluded.endpoint <> '' THEN excluded.endpoint
				ELSE transcript_conversations.endpoint
			END,
			last_activity_ms = CASE
				WHEN excluded.last_activity_ms > transcript_conversations.last_activity_ms THEN excluded.last_activity_ms
				ELSE transcript_conversations.last_activity_ms
			END
	`, s.convID, s.endpoint, ms, ms)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert conversation")
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, msg Message) (Message, error) {
	if s == nil || s.db == nil {
		return Message{}, errors.New("sqlite transcript store: db is nil")
	}
	if s.convID == "" {
		return Message{}, errors.New("sqlite transcript store: opened as index, no conversation")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	msg = normalizeMessage(msg, now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, errors.Wrap(err, "sqlite transcript store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM transcript_messages WHERE conv_id = ?`, s.convID,
	).Scan(&next); err != nil {
		return Message{}, errors.Wrap(err, "sqlite transcript store: next seq")
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transcript_messages (conv_id, seq, id, role, content, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.convID, next, msg.ID, string(msg.Role), msg.Content, msg.CreatedAt.UnixMilli()); err != nil {
		return Message{}, errors.Wrap(err, "sqlite transcript store: insert message")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE transcript_conversations SET last_activity_ms = MAX(last_activity_ms, ?) WHERE conv_id = ?`,
		now.UnixMilli(), s.convID,
	); err != nil {
		return Message{}, errors.Wrap(err, "sqlite transcript store: touch conversation")
	}
	if err := tx.Commit(); err != nil {
		return Message{}, errors.Wrap(err, "sqlite transcript store: commit")
	}
	return msg, nil
}

func (s *SQLiteStore) All(ctx context.Context) iter.Seq[Message] {
	return s.Conversation(ctx, s.ConvID())
}

// Conversation yields the messages of any conversation in the database.
func (s *SQLiteStore) Conversation(ctx context.Context, convID string) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		if s == nil || s.db == nil {
			return
		}
		if ctx == nil {
			ctx = context.Background()
		}
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, role, content, created_at_ms
			FROM transcript_messages
			WHERE conv_id = ?
			ORDER BY seq ASC
		`, convID)
		if err != nil {
			log.Error().Err(err).Str("component", "transcript").Str("conv_id", convID).Msg("query messages failed")
			return
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var (
				msg       Message
				role      string
				createdMs int64
			)
			if err := rows.Scan(&msg.ID, &role, &msg.Content, &createdMs); err != nil {
				log.Error().Err(err).Str("component", "transcript").Str("conv_id", convID).Msg("scan message failed")
				return
			}
			msg.Role = Role(role)
			msg.CreatedAt = time.UnixMilli(createdMs)
			if !yield(msg) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			log.Error().Err(err).Str("component", "transcript").Str("conv_id", convID).Msg("iterate messages failed")
		}
	}
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcript_messages WHERE conv_id = ?`, s.convID,
	).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "sqlite transcript store: count")
	}
	return n, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int, sinceMs int64) ([]ConversationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT c.conv_id, c.endpoint, c.created_at_ms, c.last_activity_ms,
		       (SELECT COUNT(*) FROM transcript_messages m WHERE m.conv_id = c.conv_id)
		FROM transcript_conversations c
	`
	args := make([]any, 0, 2)
	if sinceMs > 0 {
		query += ` WHERE c.last_activity_ms >= ?`
		args = append(args, sinceMs)
	}
	query += ` ORDER BY c.last_activity_ms DESC, c.conv_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list conversations")
	}
	defer func() { _ = rows.Close() }()

	records := make([]ConversationRecord, 0)
	for rows.Next() {
		var r ConversationRecord
		if err := rows.Scan(&r.ConvID, &r.Endpoint, &r.CreatedAtMs, &r.LastActivityMs, &r.MessageCount); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan conversation")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list conversations rows")
	}
	return records, nil
}
