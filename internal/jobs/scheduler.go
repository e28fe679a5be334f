// Package jobs runs one-shot background work with network constraints and
// exponential retry.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/scope"
	"go.uber.org/zap"
)

// Job is a unit of background work. A non-nil error from Run asks the
// scheduler to retry.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Request schedules a job once.
type Request struct {
	Job             Job
	RequiresNetwork bool
}

// Reachability reports whether the network is currently usable.
type Reachability interface {
	Reachable() bool
}

// Options tunes retry. Zero values use the defaults.
type Options struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

const (
	DefaultMaxTries        = 6
	DefaultInitialInterval = 2 * time.Second
	DefaultMaxInterval     = time.Minute
)

var errNoNetwork = errors.New("network unreachable")

// Scheduler runs requested jobs in the supervising scope. A job name is
// pending at most once; duplicate requests are dropped.
type Scheduler struct {
	scope  *scope.Scope
	bus    *bus.Bus
	net    Reachability
	logger *zap.Logger
	opts   Options

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewScheduler creates a scheduler. Network constraints wait on the
// network.reachable events of b.
func NewScheduler(sc *scope.Scope, b *bus.Bus, net Reachability, logger *zap.Logger, opts Options) *Scheduler {
	if opts.MaxTries == 0 {
		opts.MaxTries = DefaultMaxTries
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultMaxInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scope:   sc,
		bus:     b,
		net:     net,
		logger:  logger,
		opts:    opts,
		pending: make(map[string]struct{}),
	}
}

// Enqueue schedules req and reports whether it was accepted.
func (s *Scheduler) Enqueue(req Request) bool {
	name := req.Job.Name()

	s.mu.Lock()
	if _, ok := s.pending[name]; ok {
		s.mu.Unlock()
		s.logger.Debug("job already pending", zap.String("job", name))
		return false
	}
	s.pending[name] = struct{}{}
	s.mu.Unlock()

	ok := s.scope.Go("job."+name, func(ctx context.Context) {
		defer s.done(name)
		s.run(ctx, req)
	})
	if !ok {
		s.done(name)
	}
	return ok
}

// Pending reports whether a job with name is waiting or running.
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[name]
	return ok
}

func (s *Scheduler) done(name string) {
	s.mu.Lock()
	delete(s.pending, name)
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, req Request) {
	name := req.Job.Name()
	logger := s.logger.With(zap.String("job", name))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.InitialInterval
	policy.MaxInterval = s.opts.MaxInterval

	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if req.RequiresNetwork {
			if err := s.awaitNetwork(ctx); err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
		}
		tries++
		return struct{}{}, req.Job.Run(ctx)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.opts.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("job failed, retry requested", zap.Error(err), zap.Duration("next", next))
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("job cancelled")
			return
		}
		logger.Error("job gave up", zap.Error(err), zap.Int("tries", tries))
		return
	}
	logger.Info("job succeeded", zap.Int("tries", tries))
}

// awaitNetwork blocks until the network is reachable or ctx is done.
func (s *Scheduler) awaitNetwork(ctx context.Context) error {
	if s.net == nil || s.net.Reachable() {
		return nil
	}
	if s.bus == nil {
		return errNoNetwork
	}
	ch, unsub := s.bus.Subscribe(bus.KindReachable, 4)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-ch:
			if up, _ := evt.Payload.(bool); up {
				return nil
			}
		}
	}
}
