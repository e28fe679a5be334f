// Package session holds the chat selection and reconciles reachability with
// the transport lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/chat"
	"github.com/matheus3301/sockchat/internal/jobs"
	"github.com/matheus3301/sockchat/internal/scope"
	"github.com/matheus3301/sockchat/internal/status"
	"github.com/matheus3301/sockchat/internal/store"
	"go.uber.org/zap"
)

const (
	// InboundChatTitle names the chat created for a message that arrives
	// while nothing is selected.
	InboundChatTitle = "PieSocket Chat"
	// QueuedNotice is shown when a message could not be delivered.
	QueuedNotice = "Message queued for retry when connection is restored"

	DefaultReplyDelay = time.Second
)

var (
	ErrNoChatSelected = errors.New("no chat selected")
	ErrChatNotFound   = errors.New("chat not found")
	ErrNotStarted     = errors.New("session controller not started")
)

// Scheduler accepts background jobs.
type Scheduler interface {
	Enqueue(req jobs.Request) bool
}

// Options configures a Controller.
type Options struct {
	ReplyDelay time.Duration
	// Ephemeral clears every chat when the controller stops.
	Ephemeral bool
	Responder Responder
}

// Status is a point-in-time view of the messaging core.
type Status struct {
	Reachable    bool
	Connected    bool
	State        status.State
	QueueDepth   int
	SelectedChat string
	Chats        int
	Unsent       int
	Notice       string
}

// Controller owns the selected chat and the reconciliation loops.
type Controller struct {
	coord  *chat.Coordinator
	jobs   Scheduler
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	mu       sync.Mutex
	selected string
	scope    *scope.Scope
}

// NewController creates a controller. Call Start to begin routing.
func NewController(coord *chat.Coordinator, sched Scheduler, b *bus.Bus, logger *zap.Logger, opts Options) *Controller {
	if opts.ReplyDelay <= 0 {
		opts.ReplyDelay = DefaultReplyDelay
	}
	if opts.Responder == nil {
		opts.Responder = CannedResponder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{coord: coord, jobs: sched, bus: b, logger: logger, opts: opts}
}

// Start routes inbound messages and reachability changes until Stop.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.scope != nil {
		c.mu.Unlock()
		return
	}
	sc := scope.New(ctx, c.logger)
	c.scope = sc
	c.mu.Unlock()

	inbound := c.coord.Inbound(sc.Context())
	reachability := c.coord.WatchReachability(sc.Context())

	sc.Go("session.inbound", func(ctx context.Context) {
		for text := range inbound {
			c.handleInbound(ctx, text)
		}
	})
	sc.Go("session.reachability", func(context.Context) {
		for up := range reachability {
			c.handleReachability(up)
		}
	})
	c.logger.Info("session controller started")
}

// Stop cancels pending work and disconnects the transport. With Ephemeral
// set every chat is cleared.
func (c *Controller) Stop() {
	c.mu.Lock()
	sc := c.scope
	c.scope = nil
	c.mu.Unlock()
	if sc == nil {
		return
	}

	sc.Close()
	c.coord.DisconnectSocket()
	if c.opts.Ephemeral {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.coord.ClearAllChats(ctx); err != nil {
			c.logger.Error("clear chats on stop", zap.Error(err))
		}
	}
	c.ClearNotice()
	c.logger.Info("session controller stopped")
}

func (c *Controller) handleInbound(ctx context.Context, text string) {
	chatID := c.Selected()
	if chatID == "" {
		created, err := c.coord.CreateNewChat(ctx, InboundChatTitle)
		if err != nil {
			c.logger.Error("create chat for inbound message", zap.Error(err))
			return
		}
		c.mu.Lock()
		if c.selected == "" {
			c.selected = created.ID
		}
		chatID = c.selected
		c.mu.Unlock()
	}
	if err := c.coord.ReceiveMessage(ctx, text, chatID); err != nil {
		c.logger.Error("store inbound message", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (c *Controller) handleReachability(up bool) {
	c.logger.Info("network reachability", zap.Bool("reachable", up))
	if !up {
		c.coord.DisconnectSocket()
		return
	}
	c.coord.ConnectSocket()
	if c.jobs != nil {
		c.jobs.Enqueue(jobs.Request{Job: jobs.RetryUnsentJob{Sweeper: c.coord}, RequiresNetwork: true})
	}
}

// SendMessage sends content to the selected chat. An undelivered message
// raises QueuedNotice. A bot reply follows after ReplyDelay either way.
func (c *Controller) SendMessage(ctx context.Context, content string) (bool, error) {
	chatID := c.Selected()
	if chatID == "" {
		return false, ErrNoChatSelected
	}
	c.mu.Lock()
	sc := c.scope
	c.mu.Unlock()
	if sc == nil {
		return false, ErrNotStarted
	}

	delivered, err := c.coord.SendMessage(ctx, content, chatID)
	if err != nil {
		return false, err
	}
	if !delivered {
		c.Notice(QueuedNotice)
	}

	sc.After("session.reply", c.opts.ReplyDelay, func(ctx context.Context) {
		reply := c.opts.Responder.Respond(ctx, content)
		if err := c.coord.ReceiveMessage(ctx, reply, chatID); err != nil {
			c.logger.Error("store bot reply", zap.String("chat_id", chatID), zap.Error(err))
		}
	})
	return delivered, nil
}

// Selected returns the selected chat id, or "" when none is selected.
func (c *Controller) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// SelectChat selects an existing chat and marks it read.
func (c *Controller) SelectChat(ctx context.Context, chatID string) error {
	existing, err := c.coord.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("get chat: %w", err)
	}
	if existing == nil {
		return ErrChatNotFound
	}
	c.mu.Lock()
	c.selected = chatID
	c.mu.Unlock()
	return c.coord.MarkChatAsRead(ctx, chatID)
}

// CreateNewChat creates a chat titled with the current time and selects it.
func (c *Controller) CreateNewChat(ctx context.Context) (*store.Chat, error) {
	created, err := c.coord.CreateNewChat(ctx, fmt.Sprintf("New Chat %d", time.Now().UnixMilli()))
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.selected = created.ID
	c.mu.Unlock()
	return created, nil
}

// DeleteChat deletes a chat, dropping the selection if it pointed there.
func (c *Controller) DeleteChat(ctx context.Context, chatID string) error {
	if err := c.coord.DeleteChat(ctx, chatID); err != nil {
		c.Notice("Failed to delete chat")
		return err
	}
	c.unselect(chatID)
	return nil
}

// DeleteChats deletes several chats.
func (c *Controller) DeleteChats(ctx context.Context, chatIDs []string) error {
	if err := c.coord.DeleteChats(ctx, chatIDs); err != nil {
		c.Notice("Failed to delete chats")
		return err
	}
	c.unselect(chatIDs...)
	return nil
}

// ClearAllChats deletes every chat and clears the selection.
func (c *Controller) ClearAllChats(ctx context.Context) error {
	if err := c.coord.ClearAllChats(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.selected = ""
	c.mu.Unlock()
	return nil
}

func (c *Controller) unselect(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if c.selected == id {
			c.selected = ""
		}
	}
}

// Notice publishes a dismissible user-facing message.
func (c *Controller) Notice(msg string) {
	if c.bus == nil {
		return
	}
	c.bus.PublishRetained(bus.Event{Kind: bus.KindNotice, Timestamp: time.Now(), Payload: msg})
}

// ClearNotice dismisses the current notice.
func (c *Controller) ClearNotice() {
	c.Notice("")
}

// CurrentNotice returns the notice on display, or "".
func (c *Controller) CurrentNotice() string {
	if c.bus == nil {
		return ""
	}
	evt, ok := c.bus.Latest(bus.KindNotice)
	if !ok {
		return ""
	}
	msg, _ := evt.Payload.(string)
	return msg
}

// Status collects the current state of the messaging core.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	st := Status{
		Reachable:    c.coord.Reachable(),
		Connected:    c.coord.Connected(),
		State:        status.Idle,
		SelectedChat: c.Selected(),
		Notice:       c.CurrentNotice(),
	}
	if c.bus != nil {
		if evt, ok := c.bus.Latest(bus.KindSocketState); ok {
			if ch, ok := evt.Payload.(status.Change); ok {
				st.State = ch.To
			}
		}
		if evt, ok := c.bus.Latest(bus.KindQueueDepth); ok {
			st.QueueDepth, _ = evt.Payload.(int)
		}
	}

	chats, err := c.coord.ListChats(ctx)
	if err != nil {
		return st, fmt.Errorf("list chats: %w", err)
	}
	st.Chats = len(chats)
	if st.Unsent, err = c.coord.UnsentCount(ctx); err != nil {
		return st, fmt.Errorf("count unsent: %w", err)
	}
	return st, nil
}
