package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const chatColumns = `id, title, last_message, last_message_at, unread_count, is_active`

// UpsertChat inserts a chat or replaces every field of the existing row with the same id.
func (db *DB) UpsertChat(ctx context.Context, c *Chat) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chats (id, title, last_message, last_message_at, unread_count, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			last_message = excluded.last_message,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		c.ID, c.Title, c.LastMessage, c.LastMessageAt, c.UnreadCount, c.IsActive, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	db.chatsChanged()
	return nil
}

// TouchChat folds a message sent or received at the given time into the
// chat summary. The last-message fields only move forward in time and the
// unread counter is incremented in place, so concurrent callers never lose
// an update. It reports false when no chat has that id.
func (db *DB) TouchChat(ctx context.Context, id, content string, at int64, unread bool) (bool, error) {
	found, err := touchChat(ctx, db.DB, id, content, at, unread)
	if err != nil {
		return false, err
	}
	if found {
		db.chatsChanged()
	}
	return found, nil
}

// SQLite evaluates every SET expression against the row before the update.
func touchChat(ctx context.Context, ex execer, id, content string, at int64, unread bool) (bool, error) {
	inc := 0
	if unread {
		inc = 1
	}
	res, err := ex.ExecContext(ctx, `
		UPDATE chats SET
			last_message = CASE WHEN last_message_at <= ? THEN ? ELSE last_message END,
			last_message_at = MAX(last_message_at, ?),
			unread_count = unread_count + ?,
			updated_at = ?
		WHERE id = ?`,
		at, content, at, inc, time.Now().UnixMilli(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetChat returns a single chat by id, or nil when it does not exist.
func (db *DB) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	err := db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.LastMessage, &c.LastMessageAt, &c.UnreadCount, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ActiveChats returns active chats sorted by last message time descending.
func (db *DB) ActiveChats(ctx context.Context) ([]Chat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats
		WHERE is_active = 1
		ORDER BY last_message_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.LastMessage, &c.LastMessageAt, &c.UnreadCount, &c.IsActive); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// MarkChatRead zeroes the unread counter and flags the chat's messages as read.
func (db *DB) MarkChatRead(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `UPDATE chats SET unread_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `UPDATE messages SET is_read = 1 WHERE chat_id = ? AND is_read = 0`, id); err != nil {
		return err
	}
	db.chatsChanged()
	db.messagesChanged(id)
	return nil
}

// DeleteChat removes a chat row. Its messages must be deleted first.
func (db *DB) DeleteChat(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
		return err
	}
	db.chatsChanged()
	return nil
}

// DeleteChats removes the chat rows with the given ids.
func (db *DB) DeleteChats(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	if _, err := db.ExecContext(ctx, `DELETE FROM chats WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return err
	}
	db.chatsChanged()
	return nil
}

// DeleteAllChats removes every chat row.
func (db *DB) DeleteAllChats(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM chats`); err != nil {
		return err
	}
	db.chatsChanged()
	return nil
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}
