package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/go-go-golems/prattle/pkg/conversation"
)

// SQLite is the durable Backend used by the desktop client. Opened with WAL
// so reads from the UI process never block the engine's synchronous writes.
type SQLite struct {
	db *sql.DB
}

var _ conversation.Backend = (*SQLite)(nil)

func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping database")
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		return nil, errors.Wrap(err, "initialize schema")
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		is_user INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		attachment_kind TEXT,
		attachment_locator TEXT,
		attachment_media_type TEXT,
		attachment_inline BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) SaveConversation(c *conversation.Conversation) error {
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, title, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title`,
		c.ID.String(), c.Title, c.CreatedAt.UnixMicro(),
	)
	return errors.Wrap(err, "save conversation")
}

func (s *SQLite) SaveMessage(m *conversation.Message) error {
	var kind, locator, mediaType sql.NullString
	var inline []byte
	if m.Attachment != nil {
		kind = sql.NullString{String: string(m.Attachment.Kind), Valid: true}
		locator = sql.NullString{String: m.Attachment.Locator, Valid: true}
		if m.Attachment.MediaType != "" {
			mediaType = sql.NullString{String: m.Attachment.MediaType, Valid: true}
		}
		inline = m.Attachment.Inline
	}

	_, err := s.db.Exec(
		`INSERT INTO messages
		 (id, conversation_id, is_user, text, created_at,
		  attachment_kind, attachment_locator, attachment_media_type, attachment_inline)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.ConversationID.String(), m.IsUser, m.Text, m.Time.UnixMicro(),
		kind, locator, mediaType, inline,
	)
	return errors.Wrap(err, "save message")
}

func (s *SQLite) UpdateConversationTitle(id conversation.NodeID, title string) error {
	_, err := s.db.Exec(`UPDATE conversations SET title = ? WHERE id = ?`, title, id.String())
	return errors.Wrap(err, "update conversation title")
}

func (s *SQLite) UpdateMessageText(id conversation.NodeID, text string) error {
	_, err := s.db.Exec(`UPDATE messages SET text = ? WHERE id = ?`, text, id.String())
	return errors.Wrap(err, "update message text")
}

func (s *SQLite) DeleteConversation(id conversation.NodeID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin delete")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id.String()); err != nil {
		return errors.Wrap(err, "delete messages")
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id.String()); err != nil {
		return errors.Wrap(err, "delete conversation")
	}
	return errors.Wrap(tx.Commit(), "commit delete")
}

func (s *SQLite) DeleteAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin delete all")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return errors.Wrap(err, "delete messages")
	}
	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return errors.Wrap(err, "delete conversations")
	}
	return errors.Wrap(tx.Commit(), "commit delete all")
}

func (s *SQLite) Load() ([]*conversation.Conversation, []*conversation.Message, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at FROM conversations ORDER BY created_at ASC`)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load conversations")
	}
	defer func() { _ = rows.Close() }()

	var convs []*conversation.Conversation
	for rows.Next() {
		var id, title string
		var createdAt int64
		if err := rows.Scan(&id, &title, &createdAt); err != nil {
			return nil, nil, errors.Wrap(err, "scan conversation")
		}
		u, err := uuid.Parse(id)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parse conversation id")
		}
		convs = append(convs, &conversation.Conversation{
			ID:        conversation.NodeID(u),
			Title:     title,
			CreatedAt: time.UnixMicro(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "iterate conversations")
	}

	msgRows, err := s.db.Query(
		`SELECT id, conversation_id, is_user, text, created_at,
		        attachment_kind, attachment_locator, attachment_media_type, attachment_inline
		 FROM messages ORDER BY created_at ASC`)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load messages")
	}
	defer func() { _ = msgRows.Close() }()

	var msgs []*conversation.Message
	for msgRows.Next() {
		var id, convID, text string
		var isUser bool
		var createdAt int64
		var kind, locator, mediaType sql.NullString
		var inline []byte

		if err := msgRows.Scan(&id, &convID, &isUser, &text, &createdAt,
			&kind, &locator, &mediaType, &inline); err != nil {
			return nil, nil, errors.Wrap(err, "scan message")
		}

		u, err := uuid.Parse(id)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parse message id")
		}
		cu, err := uuid.Parse(convID)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parse message conversation id")
		}

		m := &conversation.Message{
			ID:             conversation.NodeID(u),
			ConversationID: conversation.NodeID(cu),
			IsUser:         isUser,
			Text:           text,
			Time:           time.UnixMicro(createdAt),
		}
		if kind.Valid {
			m.Attachment = &conversation.Attachment{
				Kind:      conversation.AttachmentKind(kind.String),
				Locator:   locator.String,
				MediaType: mediaType.String,
				Inline:    inline,
			}
		}
		msgs = append(msgs, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "iterate messages")
	}

	return convs, msgs, nil
}
