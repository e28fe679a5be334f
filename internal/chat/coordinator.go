// Package chat composes the transport, the outbound queue, the store and
// reachability into the API the session controller uses.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrTransportUnavailable is returned by RetryUnsentMessages when the
	// network is unreachable or the transport is not connected.
	ErrTransportUnavailable = errors.New("network unreachable or transport disconnected")
	// ErrEmptyMessage is returned when sending blank content.
	ErrEmptyMessage = errors.New("message content is empty")
)

// Store is the persistence contract the coordinator needs.
type Store interface {
	UpsertChat(ctx context.Context, c *store.Chat) error
	GetChat(ctx context.Context, id string) (*store.Chat, error)
	ActiveChats(ctx context.Context) ([]store.Chat, error)
	MarkChatRead(ctx context.Context, id string) error
	DeleteChat(ctx context.Context, id string) error
	DeleteChats(ctx context.Context, ids []string) error
	DeleteAllChats(ctx context.Context) error

	UpsertMessage(ctx context.Context, m *store.Message) error
	AppendMessage(ctx context.Context, m *store.Message, unread bool) (bool, error)
	MessagesByChat(ctx context.Context, chatID string) ([]store.Message, error)
	UnsentMessages(ctx context.Context) ([]store.Message, error)
	DeleteMessagesByChat(ctx context.Context, chatID string) error
	DeleteAllMessages(ctx context.Context) error
}

// Transport is the connection the coordinator drives.
type Transport interface {
	Connect()
	Disconnect()
	Send(text, chatID string) bool
	Defer(text, chatID string)
	Connected() bool
}

// Reachability reports whether the network is usable.
type Reachability interface {
	Reachable() bool
}

// Coordinator is the single entry point for chat operations.
type Coordinator struct {
	store     Store
	transport Transport
	net       Reachability
	bus       *bus.Bus
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a coordinator.
func New(st Store, tr Transport, net Reachability, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:     st,
		transport: tr,
		net:       net,
		bus:       b,
		logger:    logger,
		now:       time.Now,
	}
}

// SendMessage persists a user message and transmits it when the network is
// reachable and the transport connected, both evaluated once here. It
// reports whether the message went out; otherwise the message stays unsent
// and is handed to the outbound queue.
func (c *Coordinator) SendMessage(ctx context.Context, content, chatID string) (bool, error) {
	if strings.TrimSpace(content) == "" {
		return false, ErrEmptyMessage
	}
	sent := c.net.Reachable() && c.transport.Connected()
	ts := c.now().UnixMilli()

	msg := &store.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Content:   content,
		Timestamp: ts,
		IsSent:    sent,
	}
	if err := c.record(ctx, msg, false); err != nil {
		return false, err
	}

	if !sent {
		c.logger.Warn("message queued, no connection", zap.String("chat_id", chatID), zap.String("msg_id", msg.ID))
		c.transport.Defer(content, chatID)
		return false, nil
	}
	c.transport.Send(content, chatID)
	c.logger.Debug("message sent", zap.String("chat_id", chatID), zap.String("msg_id", msg.ID))
	return true, nil
}

// ReceiveMessage persists an inbound bot message and bumps the chat's
// unread counter. An unknown chat is logged and skipped.
func (c *Coordinator) ReceiveMessage(ctx context.Context, content, chatID string) error {
	ts := c.now().UnixMilli()
	msg := &store.Message{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		Content:     content,
		FromBot:     true,
		Timestamp:   ts,
		IsSent:      true,
		IsDelivered: true,
	}
	return c.record(ctx, msg, true)
}

// record stores msg and updates its chat summary atomically.
func (c *Coordinator) record(ctx context.Context, msg *store.Message, unread bool) error {
	found, err := c.store.AppendMessage(ctx, msg, unread)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if !found {
		c.logger.Warn("chat not found", zap.String("chat_id", msg.ChatID))
	}
	return nil
}

// RetryUnsentMessages retransmits every unsent message and marks each sent
// once the send call returns, whatever its result.
func (c *Coordinator) RetryUnsentMessages(ctx context.Context) error {
	if !c.net.Reachable() || !c.transport.Connected() {
		return ErrTransportUnavailable
	}
	unsent, err := c.store.UnsentMessages(ctx)
	if err != nil {
		return fmt.Errorf("load unsent messages: %w", err)
	}
	for i := range unsent {
		m := &unsent[i]
		c.transport.Send(m.Content, m.ChatID)
		m.IsSent = true
		if err := c.store.UpsertMessage(ctx, m); err != nil {
			return fmt.Errorf("mark message sent: %w", err)
		}
	}
	if len(unsent) > 0 {
		c.logger.Info("retried unsent messages", zap.Int("count", len(unsent)))
	}
	return nil
}

// CreateNewChat stores a new empty active chat.
func (c *Coordinator) CreateNewChat(ctx context.Context, title string) (*store.Chat, error) {
	chat := &store.Chat{
		ID:            uuid.NewString(),
		Title:         title,
		LastMessageAt: c.now().UnixMilli(),
		IsActive:      true,
	}
	if err := c.store.UpsertChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	c.logger.Info("chat created", zap.String("chat_id", chat.ID), zap.String("title", title))
	return chat, nil
}

// MarkChatAsRead zeroes the unread counter of a chat.
func (c *Coordinator) MarkChatAsRead(ctx context.Context, chatID string) error {
	return c.store.MarkChatRead(ctx, chatID)
}

// DeleteChat removes a chat after its messages.
func (c *Coordinator) DeleteChat(ctx context.Context, chatID string) error {
	if err := c.store.DeleteMessagesByChat(ctx, chatID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err := c.store.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	c.logger.Info("chat deleted", zap.String("chat_id", chatID))
	return nil
}

// DeleteChats removes several chats, messages first.
func (c *Coordinator) DeleteChats(ctx context.Context, chatIDs []string) error {
	for _, id := range chatIDs {
		if err := c.store.DeleteMessagesByChat(ctx, id); err != nil {
			return fmt.Errorf("delete messages of %s: %w", id, err)
		}
	}
	if err := c.store.DeleteChats(ctx, chatIDs); err != nil {
		return fmt.Errorf("delete chats: %w", err)
	}
	c.logger.Info("chats deleted", zap.Int("count", len(chatIDs)))
	return nil
}

// ClearAllChats removes every message and chat.
func (c *Coordinator) ClearAllChats(ctx context.Context) error {
	if err := c.store.DeleteAllMessages(ctx); err != nil {
		return fmt.Errorf("delete all messages: %w", err)
	}
	if err := c.store.DeleteAllChats(ctx); err != nil {
		return fmt.Errorf("delete all chats: %w", err)
	}
	c.logger.Info("all chats cleared")
	return nil
}

// ConnectSocket asks the transport to connect.
func (c *Coordinator) ConnectSocket() { c.transport.Connect() }

// DisconnectSocket closes the transport.
func (c *Coordinator) DisconnectSocket() { c.transport.Disconnect() }

// GetChat returns a chat or nil.
func (c *Coordinator) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	return c.store.GetChat(ctx, chatID)
}

// ListChats returns active chats, most recent first.
func (c *Coordinator) ListChats(ctx context.Context) ([]store.Chat, error) {
	return c.store.ActiveChats(ctx)
}

// ListMessages returns a chat's messages, oldest first.
func (c *Coordinator) ListMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	return c.store.MessagesByChat(ctx, chatID)
}

// UnsentCount returns how many persisted messages still wait for delivery.
func (c *Coordinator) UnsentCount(ctx context.Context) (int, error) {
	unsent, err := c.store.UnsentMessages(ctx)
	if err != nil {
		return 0, err
	}
	return len(unsent), nil
}

// Reachable reports the last observed network reachability.
func (c *Coordinator) Reachable() bool { return c.net.Reachable() }

// Connected reports whether the transport socket is open.
func (c *Coordinator) Connected() bool { return c.transport.Connected() }
