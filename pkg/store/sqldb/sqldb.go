// Package sqldb provides the shared database/sql implementation backing the
// sqlite and postgres Conversation Store drivers. Backend packages open the
// connection and delegate everything else here.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnichat/relay/pkg/chat"
	"github.com/omnichat/relay/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	model           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	tokens          INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL,
	completed_at    TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at);
`

// Dialect selects placeholder style for the underlying database.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// SQLDriver implements store.Driver over a database/sql connection.
type SQLDriver struct {
	DB      *sql.DB
	Dialect Dialect
}

// Migrate creates the schema if it does not exist. Append-only changes only.
func (d *SQLDriver) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites "?" placeholders to "$n" for postgres.
func (d *SQLDriver) rebind(query string) string {
	if d.Dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateConversation persists a new conversation.
func (d *SQLDriver) CreateConversation(ctx context.Context, conv *chat.Conversation) (string, error) {
	if conv == nil {
		return "", errors.New("cannot store nil conversation")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}

	_, err := d.DB.ExecContext(ctx,
		d.rebind(`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`),
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("inserting conversation: %w", err)
	}

	return conv.ID, nil
}

// GetConversation fetches a conversation by id.
func (d *SQLDriver) GetConversation(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	row := d.DB.QueryRowContext(ctx,
		d.rebind(`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`),
		conversationID,
	)

	var conv chat.Conversation
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundError{Kind: "conversation", ID: conversationID}
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	return &conv, nil
}

// ListConversations returns a user's conversations, most recent activity first.
func (d *SQLDriver) ListConversations(ctx context.Context, userID string) ([]*chat.Conversation, error) {
	rows, err := d.DB.QueryContext(ctx,
		d.rebind(`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var result []*chat.Conversation
	for rows.Next() {
		var conv chat.Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		result = append(result, &conv)
	}

	return result, rows.Err()
}

// DeleteConversation removes a conversation and all of its messages.
func (d *SQLDriver) DeleteConversation(ctx context.Context, conversationID string) error {
	res, err := d.DB.ExecContext(ctx,
		d.rebind(`DELETE FROM conversations WHERE id = ?`), conversationID)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return store.NotFoundError{Kind: "conversation", ID: conversationID}
	}

	if _, err := d.DB.ExecContext(ctx,
		d.rebind(`DELETE FROM messages WHERE conversation_id = ?`), conversationID); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}

	return nil
}

// ListMessages returns a conversation's messages, oldest first.
func (d *SQLDriver) ListMessages(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	rows, err := d.DB.QueryContext(ctx,
		d.rebind(`SELECT id, conversation_id, role, content, model, status, tokens, created_at, completed_at
			FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`),
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var result []*chat.Message
	for rows.Next() {
		var msg chat.Message
		var completedAt sql.NullTime
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.Model, &msg.Status, &msg.Tokens, &msg.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if completedAt.Valid {
			at := completedAt.Time
			msg.CompletedAt = &at
		}
		result = append(result, &msg)
	}

	return result, rows.Err()
}

// InsertMessage persists a message.
func (d *SQLDriver) InsertMessage(ctx context.Context, msg *chat.Message) (string, error) {
	if msg == nil {
		return "", errors.New("cannot store nil message")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	var completedAt any
	if msg.CompletedAt != nil {
		completedAt = *msg.CompletedAt
	}

	_, err := d.DB.ExecContext(ctx,
		d.rebind(`INSERT INTO messages (id, conversation_id, role, content, model, status, tokens, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Model, msg.Status, msg.Tokens, msg.CreatedAt, completedAt,
	)
	if err != nil {
		return "", fmt.Errorf("inserting message: %w", err)
	}

	return msg.ID, nil
}

// UpdateMessage applies a partial update to an existing message.
func (d *SQLDriver) UpdateMessage(ctx context.Context, messageID string, update store.MessageUpdate) error {
	var sets []string
	var args []any

	if update.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *update.Content)
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.Tokens != nil {
		sets = append(sets, "tokens = ?")
		args = append(args, *update.Tokens)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, messageID)
	res, err := d.DB.ExecContext(ctx,
		d.rebind(`UPDATE messages SET `+strings.Join(sets, ", ")+` WHERE id = ?`),
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return store.NotFoundError{Kind: "message", ID: messageID}
	}

	return nil
}

// TouchConversation bumps a conversation's last-activity time.
func (d *SQLDriver) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	res, err := d.DB.ExecContext(ctx,
		d.rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?`),
		at, conversationID,
	)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return store.NotFoundError{Kind: "conversation", ID: conversationID}
	}

	return nil
}

// Close closes the underlying database connection.
func (d *SQLDriver) Close() error {
	return d.DB.Close()
}
