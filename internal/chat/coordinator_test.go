package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/store"
	"go.uber.org/zap"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	accept    bool
	sent      []string
	deferred  []string
	connects  int
	discons   int
}

func (f *fakeTransport) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discons++
}

func (f *fakeTransport) Send(text, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return f.accept
}

func (f *fakeTransport) Defer(text, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred = append(f.deferred, text)
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

type fakeNet struct{ up atomic.Bool }

func (n *fakeNet) Reachable() bool { return n.up.Load() }

type fixture struct {
	db   *store.DB
	bus  *bus.Bus
	tr   *fakeTransport
	net  *fakeNet
	coor *Coordinator
}

func newFixture(t *testing.T, reachable, connected bool) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	db.Attach(b)
	tr := &fakeTransport{connected: connected, accept: true}
	net := &fakeNet{}
	net.up.Store(reachable)
	return &fixture{db: db, bus: b, tr: tr, net: net, coor: New(db, tr, net, b, zap.NewNop())}
}

func (f *fixture) chat(t *testing.T, id string) {
	t.Helper()
	if err := f.db.UpsertChat(context.Background(), &store.Chat{ID: id, Title: id, IsActive: true}); err != nil {
		t.Fatal(err)
	}
}

func TestSendWhileReachableAndConnected(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()
	f.chat(t, "c1")

	delivered, err := f.coor.SendMessage(ctx, "hi", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if !delivered {
		t.Error("SendMessage() = false, want true")
	}

	msgs, _ := f.db.MessagesByChat(ctx, "c1")
	if len(msgs) != 1 || msgs[0].Content != "hi" || !msgs[0].IsSent || msgs[0].FromBot {
		t.Errorf("messages = %+v, want one sent user message hi", msgs)
	}
	c, _ := f.db.GetChat(ctx, "c1")
	if c.LastMessage != "hi" || c.LastMessageAt != msgs[0].Timestamp {
		t.Errorf("chat last message = %q at %d, want hi at %d", c.LastMessage, c.LastMessageAt, msgs[0].Timestamp)
	}
	if len(f.tr.sent) != 1 || f.tr.sent[0] != "hi" {
		t.Errorf("transport sent = %v, want [hi]", f.tr.sent)
	}
}

func TestSendWhileUnreachable(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()
	f.chat(t, "c2")

	delivered, err := f.coor.SendMessage(ctx, "hello", "c2")
	if err != nil {
		t.Fatal(err)
	}
	if delivered {
		t.Error("SendMessage() = true while unreachable")
	}
	msgs, _ := f.db.MessagesByChat(ctx, "c2")
	if len(msgs) != 1 || msgs[0].IsSent {
		t.Errorf("messages = %+v, want one unsent", msgs)
	}
	if len(f.tr.sent) != 0 {
		t.Errorf("transport sent = %v while unreachable", f.tr.sent)
	}
	if len(f.tr.deferred) != 1 || f.tr.deferred[0] != "hello" {
		t.Errorf("deferred = %v, want [hello]", f.tr.deferred)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	f := newFixture(t, true, false)
	f.chat(t, "c1")
	delivered, err := f.coor.SendMessage(context.Background(), "x", "c1")
	if err != nil || delivered {
		t.Errorf("SendMessage() = (%v, %v), want (false, nil)", delivered, err)
	}
}

func TestSendEmptyRejected(t *testing.T) {
	f := newFixture(t, true, true)
	if _, err := f.coor.SendMessage(context.Background(), "  ", "c1"); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestReceiveBumpsUnread(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()
	f.chat(t, "c1")

	for _, s := range []string{"one", "two"} {
		if err := f.coor.ReceiveMessage(ctx, s, "c1"); err != nil {
			t.Fatal(err)
		}
	}
	c, _ := f.db.GetChat(ctx, "c1")
	if c.UnreadCount != 2 || c.LastMessage != "two" {
		t.Errorf("chat = %+v, want unread 2 last two", c)
	}
	msgs, _ := f.db.MessagesByChat(ctx, "c1")
	for _, m := range msgs {
		if !m.FromBot || !m.IsSent || !m.IsDelivered {
			t.Errorf("received message %+v should be bot, sent and delivered", m)
		}
	}
}

func TestConcurrentAppendsKeepSummaryConsistent(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()
	f.chat(t, "c1")

	const n = 300
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%3 == 0 {
				_, err = f.coor.SendMessage(ctx, fmt.Sprintf("u%d", i), "c1")
			} else {
				err = f.coor.ReceiveMessage(ctx, fmt.Sprintf("m%d", i), "c1")
			}
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	c, err := f.db.GetChat(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if want := n - n/3; c.UnreadCount != want {
		t.Errorf("unread = %d, want %d", c.UnreadCount, want)
	}
	last, err := f.db.LastMessage(ctx, "c1")
	if err != nil || last == nil {
		t.Fatalf("LastMessage() = %v, %v", last, err)
	}
	if c.LastMessage != last.Content || c.LastMessageAt != last.Timestamp {
		t.Errorf("chat last = %q@%d, newest message = %q@%d", c.LastMessage, c.LastMessageAt, last.Content, last.Timestamp)
	}
	if count, _ := f.db.MessageCount(ctx); count != n {
		t.Errorf("message count = %d, want %d", count, n)
	}
}

func TestReceiveUnknownChatDropped(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()

	if err := f.coor.ReceiveMessage(ctx, "orphan", "gone"); err != nil {
		t.Fatalf("ReceiveMessage() error = %v, want nil", err)
	}
	if c, _ := f.db.GetChat(ctx, "gone"); c != nil {
		t.Errorf("chat created for unknown id: %+v", c)
	}
}

func TestRetryUnsentMarksSentUnconditionally(t *testing.T) {
	f := newFixture(t, true, false)
	ctx := context.Background()
	f.chat(t, "c1")
	f.chat(t, "c2")
	f.coor.SendMessage(ctx, "a", "c1")
	f.coor.SendMessage(ctx, "b", "c2")

	if err := f.coor.RetryUnsentMessages(ctx); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("err = %v, want ErrTransportUnavailable", err)
	}

	f.tr.setConnected(true)
	f.tr.accept = false
	if err := f.coor.RetryUnsentMessages(ctx); err != nil {
		t.Fatal(err)
	}
	if len(f.tr.sent) != 2 {
		t.Errorf("transport sent = %v, want 2 retransmissions", f.tr.sent)
	}
	unsent, _ := f.db.UnsentMessages(ctx)
	if len(unsent) != 0 {
		t.Errorf("unsent = %+v, want none", unsent)
	}
}

func TestCreateNewChat(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()

	c, err := f.coor.CreateNewChat(ctx, "PieSocket Chat")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID == "" || !c.IsActive || c.UnreadCount != 0 || c.LastMessage != "" {
		t.Errorf("chat = %+v", c)
	}
	chats, _ := f.coor.ListChats(ctx)
	if len(chats) != 1 || chats[0].ID != c.ID {
		t.Errorf("ListChats() = %+v", chats)
	}
}

func TestCreateNewChatPropagatesStoreError(t *testing.T) {
	f := newFixture(t, true, true)
	_ = f.db.Close()
	if _, err := f.coor.CreateNewChat(context.Background(), "x"); err == nil {
		t.Error("CreateNewChat() on closed store should fail")
	}
}

func TestMarkChatAsReadTwice(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()
	f.chat(t, "c1")
	f.coor.ReceiveMessage(ctx, "ping", "c1")

	for i := 0; i < 2; i++ {
		if err := f.coor.MarkChatAsRead(ctx, "c1"); err != nil {
			t.Fatal(err)
		}
		if c, _ := f.db.GetChat(ctx, "c1"); c.UnreadCount != 0 {
			t.Errorf("pass %d: unread = %d, want 0", i, c.UnreadCount)
		}
	}
}

func TestDeleteCascades(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()
	for _, id := range []string{"x", "y", "z"} {
		f.chat(t, id)
		f.coor.ReceiveMessage(ctx, "m", id)
	}

	if err := f.coor.DeleteChat(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if msgs, _ := f.coor.ListMessages(ctx, "x"); len(msgs) != 0 {
		t.Errorf("messages of x = %d, want 0", len(msgs))
	}
	if c, _ := f.coor.GetChat(ctx, "x"); c != nil {
		t.Error("chat x still exists")
	}

	if err := f.coor.DeleteChats(ctx, []string{"y", "z"}); err != nil {
		t.Fatal(err)
	}
	if n, _ := f.db.MessageCount(ctx); n != 0 {
		t.Errorf("message count = %d, want 0", n)
	}
	if n, _ := f.db.ChatCount(ctx); n != 0 {
		t.Errorf("chat count = %d, want 0", n)
	}
}

func TestClearAllChats(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()
	f.chat(t, "a")
	f.coor.ReceiveMessage(ctx, "m", "a")

	if err := f.coor.ClearAllChats(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := f.db.MessageCount(ctx); n != 0 {
		t.Errorf("message count = %d, want 0", n)
	}
	if n, _ := f.db.ChatCount(ctx); n != 0 {
		t.Errorf("chat count = %d, want 0", n)
	}
}

func TestConnectDisconnectDelegate(t *testing.T) {
	f := newFixture(t, true, true)
	f.coor.ConnectSocket()
	f.coor.DisconnectSocket()
	if f.tr.connects != 1 || f.tr.discons != 1 {
		t.Errorf("connects=%d disconnects=%d, want 1 and 1", f.tr.connects, f.tr.discons)
	}
}

func TestWatchChats(t *testing.T) {
	f := newFixture(t, true, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := f.coor.WatchChats(ctx)
	if first := next(t, ch); len(first) != 0 {
		t.Fatalf("initial snapshot = %+v, want empty", first)
	}

	created, err := f.coor.CreateNewChat(ctx, "New Chat")
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case chats := <-ch:
			if len(chats) == 1 && chats[0].ID == created.ID {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for snapshot with new chat")
		}
	}
}

func TestWatchMessagesScopedToChat(t *testing.T) {
	f := newFixture(t, true, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.chat(t, "mine")
	f.chat(t, "other")

	ch := f.coor.WatchMessages(ctx, "mine")
	next(t, ch)

	f.coor.ReceiveMessage(ctx, "elsewhere", "other")
	f.coor.ReceiveMessage(ctx, "here", "mine")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msgs := <-ch:
			for _, m := range msgs {
				if m.ChatID != "mine" {
					t.Fatalf("watch leaked message of %s", m.ChatID)
				}
			}
			if len(msgs) == 1 && msgs[0].Content == "here" {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for message snapshot")
		}
	}
}

func TestInboundAndConnectionSignals(t *testing.T) {
	f := newFixture(t, true, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.bus.PublishRetained(bus.Event{Kind: bus.KindSocketStatus, Payload: true})
	if v := next(t, f.coor.WatchConnection(ctx)); !v {
		t.Error("replayed connection status = false, want true")
	}

	in := f.coor.Inbound(ctx)
	f.bus.Publish(bus.Event{Kind: bus.KindSocketMessage, Payload: "yo"})
	if v := next(t, in); v != "yo" {
		t.Errorf("inbound = %q, want yo", v)
	}
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for value")
	}
	var zero T
	return zero
}
