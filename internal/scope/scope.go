// Package scope provides the supervising task scope that owns background work
// of the messaging core: reconnect delays, queue retry passes and jobs.
package scope

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scope runs tasks under a shared cancellable context. A panicking task is
// recovered and logged; it never cancels its siblings.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	group  errgroup.Group
}

// New creates a scope derived from parent.
func New(parent context.Context, logger *zap.Logger) *Scope {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel, logger: logger}
}

// Context returns the scope context, cancelled by Close.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Go runs fn in its own goroutine. Calls after Close are dropped.
func (s *Scope) Go(name string, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Debug("scope closed, task dropped", zap.String("task", name))
		return false
	}
	s.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("task panicked", zap.String("task", name), zap.Any("panic", r))
				err = fmt.Errorf("task %s panicked: %v", name, r)
			}
		}()
		fn(s.ctx)
		return nil
	})
	return true
}

// After runs fn once d has elapsed, unless the scope is closed first.
func (s *Scope) After(name string, d time.Duration, fn func(ctx context.Context)) bool {
	return s.Go(name, func(ctx context.Context) {
		if !Sleep(ctx, d) {
			return
		}
		fn(ctx)
	})
}

// Close cancels the scope and waits for running tasks to return.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	_ = s.group.Wait()
}

// Sleep waits for d or until ctx is done. Reports whether the full delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
