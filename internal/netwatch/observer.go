// Package netwatch observes whether the host has a usable path to the chat
// endpoint, independent of the transport connection.
package netwatch

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/scope"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 3 * time.Second
)

// Prober reports whether the network is reachable right now.
type Prober func(ctx context.Context) bool

// Options configures an Observer.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Prober   Prober
}

// Observer holds the live reachability value and publishes its transitions
// as retained network.reachable events.
type Observer struct {
	mu        sync.Mutex
	reachable bool

	opts   Options
	bus    *bus.Bus
	logger *zap.Logger
}

// New runs one synchronous probe so the first value is known before anyone
// subscribes. Call Start to keep probing.
func New(ctx context.Context, opts Options, b *bus.Bus, logger *zap.Logger) *Observer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Prober == nil {
		opts.Prober = func(context.Context) bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Observer{opts: opts, bus: b, logger: logger}

	o.reachable = o.probe(ctx)
	o.publish(o.reachable)
	o.logger.Info("initial reachability", zap.Bool("reachable", o.reachable))
	return o
}

// Start re-probes on every interval until sc is closed.
func (o *Observer) Start(sc *scope.Scope) {
	sc.Go("netwatch.probe", func(ctx context.Context) {
		ticker := time.NewTicker(o.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.Set(o.probe(ctx))
			}
		}
	})
}

// Reachable returns the last observed value.
func (o *Observer) Reachable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reachable
}

// Set records a new value. Only changes are published.
func (o *Observer) Set(reachable bool) {
	o.mu.Lock()
	changed := o.reachable != reachable
	o.reachable = reachable
	o.mu.Unlock()

	if !changed {
		return
	}
	o.logger.Info("reachability changed", zap.Bool("reachable", reachable))
	o.publish(reachable)
}

func (o *Observer) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	return o.opts.Prober(ctx)
}

func (o *Observer) publish(reachable bool) {
	if o.bus == nil {
		return
	}
	o.bus.PublishRetained(bus.Event{Kind: bus.KindReachable, Timestamp: time.Now(), Payload: reachable})
}

// DialProber reports reachable when a TCP connection to addr succeeds.
func DialProber(addr string) Prober {
	return func(ctx context.Context) bool {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

// EndpointAddr returns the host:port a ws or wss endpoint dials.
func EndpointAddr(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "wss", "https":
		return net.JoinHostPort(u.Hostname(), "443"), nil
	case "ws", "http":
		return net.JoinHostPort(u.Hostname(), "80"), nil
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}
