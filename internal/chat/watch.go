package chat

import (
	"context"

	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/store"
	"go.uber.org/zap"
)

// WatchChats delivers the active chat list now and after every chat write.
// Slow readers only see the latest snapshot. The channel closes with ctx.
func (c *Coordinator) WatchChats(ctx context.Context) <-chan []store.Chat {
	return watchQuery(ctx, c, bus.KindChatsChanged, func(bus.Event) bool { return true }, c.store.ActiveChats)
}

// WatchMessages delivers a chat's messages now and after every write to them.
func (c *Coordinator) WatchMessages(ctx context.Context, chatID string) <-chan []store.Message {
	relevant := func(evt bus.Event) bool {
		id, _ := evt.Payload.(string)
		return id == "" || id == chatID
	}
	return watchQuery(ctx, c, bus.KindMessagesChange, relevant, func(ctx context.Context) ([]store.Message, error) {
		return c.store.MessagesByChat(ctx, chatID)
	})
}

// WatchReachability delivers the current reachability and every change.
func (c *Coordinator) WatchReachability(ctx context.Context) <-chan bool {
	return watchKind[bool](ctx, c.bus, bus.KindReachable, 4)
}

// WatchConnection delivers the current connection status and every change.
func (c *Coordinator) WatchConnection(ctx context.Context) <-chan bool {
	return watchKind[bool](ctx, c.bus, bus.KindSocketStatus, 4)
}

// Inbound delivers messages received from the transport.
func (c *Coordinator) Inbound(ctx context.Context) <-chan string {
	return watchKind[string](ctx, c.bus, bus.KindSocketMessage, 64)
}

func watchQuery[T any](ctx context.Context, c *Coordinator, kind string, relevant func(bus.Event) bool, query func(context.Context) ([]T, error)) <-chan []T {
	out := make(chan []T, 1)
	events, unsub := c.bus.Subscribe(kind, 16)
	go func() {
		defer close(out)
		defer unsub()
		for {
			rows, err := query(ctx)
			switch {
			case err != nil && ctx.Err() != nil:
				return
			case err != nil:
				c.logger.Warn("watch query failed", zap.String("kind", kind), zap.Error(err))
			default:
				if !offer(ctx, out, rows) {
					return
				}
			}

			// Coalesce bursts of writes into one re-query.
			if !awaitRelevant(ctx, events, relevant) {
				return
			}
			for drained := false; !drained; {
				select {
				case <-events:
				default:
					drained = true
				}
			}
		}
	}()
	return out
}

func awaitRelevant(ctx context.Context, events <-chan bus.Event, relevant func(bus.Event) bool) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case evt := <-events:
			if relevant(evt) {
				return true
			}
		}
	}
}

func watchKind[T any](ctx context.Context, b *bus.Bus, kind string, buf int) <-chan T {
	out := make(chan T, buf)
	events, unsub := b.Subscribe(kind, buf)
	go func() {
		defer close(out)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				v, ok := evt.Payload.(T)
				if !ok || evt.Kind != kind {
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// offer sends v, replacing an unread older value.
func offer[T any](ctx context.Context, out chan T, v T) bool {
	for {
		select {
		case out <- v:
			return true
		case <-ctx.Done():
			return false
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
