package store

import (
	"context"
	"database/sql"
	"errors"
)

const messageColumns = `id, chat_id, content, from_bot, timestamp, is_sent, is_delivered, is_read`

// UpsertMessage inserts a message or replaces every field of the existing row with the same id.
func (db *DB) UpsertMessage(ctx context.Context, m *Message) error {
	if err := upsertMessage(ctx, db.DB, m); err != nil {
		return err
	}
	db.messagesChanged(m.ChatID)
	return nil
}

// AppendMessage inserts m and folds it into its chat's summary in a single
// transaction, so appends to one chat are serialized and the summary always
// names the newest message. It reports whether the chat exists; the message
// is kept either way.
func (db *DB) AppendMessage(ctx context.Context, m *Message, unread bool) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertMessage(ctx, tx, m); err != nil {
		return false, err
	}
	found, err := touchChat(ctx, tx, m.ChatID, m.Content, m.Timestamp, unread)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	db.messagesChanged(m.ChatID)
	if found {
		db.chatsChanged()
	}
	return found, nil
}

func upsertMessage(ctx context.Context, ex execer, m *Message) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chat_id = excluded.chat_id,
			content = excluded.content,
			from_bot = excluded.from_bot,
			timestamp = excluded.timestamp,
			is_sent = excluded.is_sent,
			is_delivered = excluded.is_delivered,
			is_read = excluded.is_read`,
		m.ID, m.ChatID, m.Content, m.FromBot, m.Timestamp, m.IsSent, m.IsDelivered, m.IsRead)
	return err
}

// MessagesByChat returns a chat's messages in chronological order.
func (db *DB) MessagesByChat(ctx context.Context, chatID string) ([]Message, error) {
	return db.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp ASC, rowid ASC`, chatID)
}

// UnsentMessages returns every message still waiting for delivery, oldest first.
func (db *DB) UnsentMessages(ctx context.Context) ([]Message, error) {
	return db.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE is_sent = 0
		ORDER BY timestamp ASC, rowid ASC`)
}

// LastMessage returns the most recent message of a chat, or nil when it has none.
func (db *DB) LastMessage(ctx context.Context, chatID string) (*Message, error) {
	var m Message
	err := db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT 1`, chatID).
		Scan(&m.ID, &m.ChatID, &m.Content, &m.FromBot, &m.Timestamp, &m.IsSent, &m.IsDelivered, &m.IsRead)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMessagesByChat removes all messages of a chat.
func (db *DB) DeleteMessagesByChat(ctx context.Context, chatID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	db.messagesChanged(chatID)
	return nil
}

// DeleteAllMessages removes every message.
func (db *DB) DeleteAllMessages(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return err
	}
	db.messagesChanged("")
	return nil
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

func (db *DB) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Content, &m.FromBot, &m.Timestamp, &m.IsSent, &m.IsDelivered, &m.IsRead); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
