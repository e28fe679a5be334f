package session

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/chat"
	"github.com/matheus3301/sockchat/internal/jobs"
	"github.com/matheus3301/sockchat/internal/store"
	"go.uber.org/zap"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
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

func (f *fakeTransport) Send(string, string) bool { return true }
func (f *fakeTransport) Defer(string, string)     {}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.discons
}

type fakeNet struct{ up atomic.Bool }

func (n *fakeNet) Reachable() bool { return n.up.Load() }

type fakeScheduler struct {
	mu   sync.Mutex
	reqs []jobs.Request
}

func (s *fakeScheduler) Enqueue(req jobs.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return true
}

func (s *fakeScheduler) requests() []jobs.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.reqs)
}

const testReply = "canned"

type fixture struct {
	db    *store.DB
	bus   *bus.Bus
	tr    *fakeTransport
	net   *fakeNet
	sched *fakeScheduler
	ctrl  *Controller
}

func newFixture(t *testing.T, reachable, connected bool, opts Options) *fixture {
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
	tr := &fakeTransport{connected: connected}
	net := &fakeNet{}
	net.up.Store(reachable)
	sched := &fakeScheduler{}

	if opts.ReplyDelay == 0 {
		opts.ReplyDelay = 10 * time.Millisecond
	}
	if opts.Responder == nil {
		opts.Responder = ResponderFunc(func(context.Context, string) string { return testReply })
	}
	coord := chat.New(db, tr, net, b, zap.NewNop())
	ctrl := NewController(coord, sched, b, zap.NewNop(), opts)
	return &fixture{db: db, bus: b, tr: tr, net: net, sched: sched, ctrl: ctrl}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.ctrl.Start(context.Background())
	t.Cleanup(f.ctrl.Stop)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestInboundWithoutSelectionCreatesChat(t *testing.T) {
	f := newFixture(t, true, true, Options{})
	f.start(t)
	ctx := context.Background()

	f.bus.Publish(bus.Event{Kind: bus.KindSocketMessage, Payload: "hello"})
	waitFor(t, "chat selection", func() bool { return f.ctrl.Selected() != "" })

	id := f.ctrl.Selected()
	c, err := f.db.GetChat(ctx, id)
	if err != nil || c == nil {
		t.Fatalf("GetChat(%s) = %v, %v", id, c, err)
	}
	if c.Title != InboundChatTitle {
		t.Errorf("title = %q, want %q", c.Title, InboundChatTitle)
	}
	waitFor(t, "message stored", func() bool {
		msgs, _ := f.db.MessagesByChat(ctx, id)
		return len(msgs) == 1 && msgs[0].Content == "hello" && msgs[0].FromBot
	})
}

func TestInboundRoutedToSelectedChat(t *testing.T) {
	f := newFixture(t, true, true, Options{})
	f.start(t)
	ctx := context.Background()
	if err := f.db.UpsertChat(ctx, &store.Chat{ID: "c1", IsActive: true, UnreadCount: 3}); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.SelectChat(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if c, _ := f.db.GetChat(ctx, "c1"); c.UnreadCount != 0 {
		t.Errorf("unread after select = %d, want 0", c.UnreadCount)
	}

	f.bus.Publish(bus.Event{Kind: bus.KindSocketMessage, Payload: "routed"})
	waitFor(t, "message in c1", func() bool {
		msgs, _ := f.db.MessagesByChat(ctx, "c1")
		return len(msgs) == 1
	})
	if n, _ := f.db.ChatCount(ctx); n != 1 {
		t.Errorf("chat count = %d, want 1", n)
	}
}

func TestReachabilityDrivesTransport(t *testing.T) {
	f := newFixture(t, true, false, Options{})
	f.bus.PublishRetained(bus.Event{Kind: bus.KindReachable, Payload: true})
	f.start(t)

	waitFor(t, "connect", func() bool { c, _ := f.tr.counts(); return c == 1 })
	reqs := f.sched.requests()
	if len(reqs) != 1 || reqs[0].Job.Name() != jobs.RetryUnsentName || !reqs[0].RequiresNetwork {
		t.Fatalf("scheduled = %+v, want one network-bound retry-unsent job", reqs)
	}

	f.bus.PublishRetained(bus.Event{Kind: bus.KindReachable, Payload: false})
	waitFor(t, "disconnect", func() bool { _, d := f.tr.counts(); return d == 1 })
}

func TestSendUndeliveredRaisesNoticeAndReply(t *testing.T) {
	f := newFixture(t, false, false, Options{})
	f.start(t)
	ctx := context.Background()

	created, err := f.ctrl.CreateNewChat(ctx)
	if err != nil {
		t.Fatal(err)
	}
	delivered, err := f.ctrl.SendMessage(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if delivered {
		t.Error("SendMessage() = true while unreachable")
	}
	if got := f.ctrl.CurrentNotice(); got != QueuedNotice {
		t.Errorf("notice = %q, want %q", got, QueuedNotice)
	}

	waitFor(t, "bot reply", func() bool {
		msgs, _ := f.db.MessagesByChat(ctx, created.ID)
		return len(msgs) == 2 && msgs[1].Content == testReply && msgs[1].FromBot
	})

	f.ctrl.ClearNotice()
	if got := f.ctrl.CurrentNotice(); got != "" {
		t.Errorf("notice after clear = %q", got)
	}
}

func TestSendDeliveredNoNotice(t *testing.T) {
	f := newFixture(t, true, true, Options{})
	f.start(t)
	ctx := context.Background()
	f.ctrl.CreateNewChat(ctx)

	delivered, err := f.ctrl.SendMessage(ctx, "hi")
	if err != nil || !delivered {
		t.Fatalf("SendMessage() = (%v, %v), want (true, nil)", delivered, err)
	}
	if got := f.ctrl.CurrentNotice(); got != "" {
		t.Errorf("notice = %q, want none", got)
	}
}

func TestSendWithoutSelection(t *testing.T) {
	f := newFixture(t, true, true, Options{})
	f.start(t)
	if _, err := f.ctrl.SendMessage(context.Background(), "x"); !errors.Is(err, ErrNoChatSelected) {
		t.Errorf("err = %v, want ErrNoChatSelected", err)
	}
}

func TestSelectUnknownChat(t *testing.T) {
	f := newFixture(t, true, true, Options{})
	if err := f.ctrl.SelectChat(context.Background(), "nope"); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("err = %v, want ErrChatNotFound", err)
	}
}

func TestCreateNewChatSelectsIt(t *testing.T) {
	f := newFixture(t, true, true, Options{})
	c, err := f.ctrl.CreateNewChat(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(c.Title, "New Chat ") {
		t.Errorf("title = %q", c.Title)
	}
	if f.ctrl.Selected() != c.ID {
		t.Errorf("selected = %q, want %q", f.ctrl.Selected(), c.ID)
	}
}

func TestDeleteSelectedChatClearsSelection(t *testing.T) {
	f := newFixture(t, true, true, Options{})
	ctx := context.Background()
	c, _ := f.ctrl.CreateNewChat(ctx)

	if err := f.ctrl.DeleteChat(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if f.ctrl.Selected() != "" {
		t.Errorf("selected = %q after delete", f.ctrl.Selected())
	}
}

func TestStopEphemeralClearsChats(t *testing.T) {
	f := newFixture(t, true, true, Options{Ephemeral: true})
	ctx := context.Background()
	f.ctrl.Start(ctx)
	f.ctrl.CreateNewChat(ctx)

	f.ctrl.Stop()
	if n, _ := f.db.ChatCount(ctx); n != 0 {
		t.Errorf("chat count after stop = %d, want 0", n)
	}
	if _, d := f.tr.counts(); d != 1 {
		t.Errorf("disconnects = %d, want 1", d)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, false, false, Options{})
	f.start(t)
	ctx := context.Background()
	f.ctrl.CreateNewChat(ctx)
	f.ctrl.SendMessage(ctx, "pending")
	f.bus.PublishRetained(bus.Event{Kind: bus.KindQueueDepth, Payload: 1})

	st, err := f.ctrl.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Reachable || st.Connected || st.Chats != 1 || st.Unsent != 1 || st.QueueDepth != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.SelectedChat == "" || st.Notice != QueuedNotice {
		t.Errorf("status = %+v", st)
	}
}

func TestCannedResponder(t *testing.T) {
	for i := 0; i < 20; i++ {
		reply := CannedResponder{}.Respond(context.Background(), "hi")
		if !slices.Contains(CannedReplies, reply) {
			t.Fatalf("reply %q is not canned", reply)
		}
	}
}
