package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/sockchat/internal/bus"
	_ "github.com/mattn/go-sqlite3"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DB wraps the SQLite database holding chats and messages. When a bus is
// attached, every write publishes a change event so live views can re-query.
type DB struct {
	*sql.DB
	bus *bus.Bus
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Transactions begin IMMEDIATE so concurrent writers queue on the busy
// timeout instead of failing on lock upgrade.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db}, nil
}

// Attach sets the bus that receives change notifications.
func (db *DB) Attach(b *bus.Bus) *DB {
	db.bus = b
	return db
}

func (db *DB) chatsChanged() {
	if db.bus != nil {
		db.bus.Publish(bus.Event{Kind: bus.KindChatsChanged, Timestamp: time.Now()})
	}
}

// messagesChanged notifies watchers of chatID; an empty chatID means all chats.
func (db *DB) messagesChanged(chatID string) {
	if db.bus != nil {
		db.bus.Publish(bus.Event{Kind: bus.KindMessagesChange, Timestamp: time.Now(), Payload: chatID})
	}
}
