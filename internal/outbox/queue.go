package outbox

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/scope"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second
)

// Transmitter writes a text frame on the live transport and reports whether
// it was accepted.
type Transmitter interface {
	Transmit(text string) bool
}

// Entry is a message waiting for delivery. Entries live in memory only.
type Entry struct {
	Text       string
	ChatID     string
	EnqueuedAt time.Time
	Attempts   int
}

// Options tunes retry behaviour. Zero values use the defaults.
type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// Queue buffers messages the transport could not send and retries them in
// sequential passes.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry

	passMu  sync.Mutex
	offline atomic.Bool

	tx          Transmitter
	bus         *bus.Bus
	scope       *scope.Scope
	logger      *zap.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// New creates a queue that retries through tx and runs passes in sc.
func New(tx Transmitter, b *bus.Bus, sc *scope.Scope, logger *zap.Logger, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		tx:          tx,
		bus:         b,
		scope:       sc,
		logger:      logger,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
	}
	q.publishDepth(0)
	return q
}

// Enqueue appends a message and schedules a delayed retry pass, unless
// offline simulation is on.
func (q *Queue) Enqueue(text, chatID string) {
	q.mu.Lock()
	q.entries = append(q.entries, &Entry{Text: text, ChatID: chatID, EnqueuedAt: time.Now()})
	depth := len(q.entries)
	q.mu.Unlock()

	q.logger.Info("message queued", zap.String("chat_id", chatID), zap.Int("depth", depth))
	q.publishDepth(depth)

	if q.offline.Load() {
		return
	}
	q.scope.After("outbox.retry", q.retryDelay, q.pass)
}

// Flush schedules an immediate retry pass.
func (q *Queue) Flush() {
	if q.Depth() == 0 {
		return
	}
	q.scope.Go("outbox.flush", q.pass)
}

// Clear drops every entry.
func (q *Queue) Clear() {
	q.mu.Lock()
	n := len(q.entries)
	q.entries = nil
	q.mu.Unlock()
	if n > 0 {
		q.logger.Info("queue cleared", zap.Int("dropped", n))
	}
	q.publishDepth(0)
}

// SetOffline toggles offline simulation. While on, no passes are scheduled
// and running passes transmit nothing.
func (q *Queue) SetOffline(offline bool) {
	q.offline.Store(offline)
}

// Offline reports whether offline simulation is on.
func (q *Queue) Offline() bool {
	return q.offline.Load()
}

// Depth returns the number of queued entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns copies of the queued entries in FIFO order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

// pass walks a snapshot of the queue once. Passes never overlap.
func (q *Queue) pass(ctx context.Context) {
	q.passMu.Lock()
	defer q.passMu.Unlock()

	q.mu.Lock()
	snapshot := slices.Clone(q.entries)
	q.mu.Unlock()

	failed := false
	for _, e := range snapshot {
		if ctx.Err() != nil || q.offline.Load() {
			return
		}

		q.mu.Lock()
		queued := slices.Contains(q.entries, e)
		attempts := e.Attempts
		q.mu.Unlock()
		if !queued {
			continue
		}

		if attempts >= q.maxAttempts {
			q.logger.Warn("max retry attempts reached, dropping from queue",
				zap.String("chat_id", e.ChatID), zap.Int("attempts", attempts))
			q.publishDepth(q.remove(e))
			continue
		}

		if q.tx.Transmit(e.Text) {
			q.logger.Info("queued message sent", zap.String("chat_id", e.ChatID), zap.Int("attempts", attempts+1))
			q.publishDepth(q.remove(e))
			continue
		}

		q.mu.Lock()
		e.Attempts++
		depth := len(q.entries)
		q.mu.Unlock()
		failed = true
		q.logger.Warn("queued message send failed", zap.String("chat_id", e.ChatID), zap.Int("attempts", attempts+1))
		q.publishDepth(depth)
		if !scope.Sleep(ctx, q.retryDelay) {
			return
		}
	}

	// Failed entries get another pass so they reach exhaustion on their own.
	if failed && q.Depth() > 0 && !q.offline.Load() {
		q.scope.After("outbox.retry", q.retryDelay, q.pass)
	}
}

func (q *Queue) remove(e *Entry) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := slices.Index(q.entries, e); i >= 0 {
		q.entries = slices.Delete(q.entries, i, i+1)
	}
	return len(q.entries)
}

func (q *Queue) publishDepth(depth int) {
	if q.bus == nil {
		return
	}
	q.bus.PublishRetained(bus.Event{Kind: bus.KindQueueDepth, Timestamp: time.Now(), Payload: depth})
}
