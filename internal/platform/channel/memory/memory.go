// Package memory provides an in-process channel driver. Every subscription
// whose topics match receives its own copy of a message. Nothing survives a
// restart, so it is meant for development and tests.
package memory

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/MahdiBaghbani/guestservice-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/channel"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/logutil"
)

func init() {
	channel.RegisterDriver("memory", func(config map[string]any, log *slog.Logger) (channel.Channel, error) {
		var c Config
		if err := cfg.Decode(config, &c); err != nil {
			return nil, err
		}
		return New(c, log), nil
	})
}

// Config is the [channel.drivers.memory] table.
type Config struct {
	// Buffer is the per-subscription queue length.
	Buffer int `mapstructure:"buffer"`

	// MaxDeliveries bounds redelivery of a message whose handler failed.
	MaxDeliveries int `mapstructure:"max_deliveries"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 3
	}
}

type delivery struct {
	msg     channel.Message
	attempt int
}

type subscription struct {
	topics map[string]bool
	queue  chan delivery
	gone   chan struct{}
}

// Bus is the in-memory channel.
type Bus struct {
	cfg  Config
	log  *slog.Logger
	seq  atomic.Uint64
	done chan struct{}
	once sync.Once

	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool
}

// New creates a bus. Zero config fields take their defaults.
func New(c Config, log *slog.Logger) *Bus {
	c.ApplyDefaults()
	return &Bus{
		cfg:  c,
		log:  logutil.NoopIfNil(log),
		done: make(chan struct{}),
		subs: make(map[*subscription]struct{}),
	}
}

// Publish enqueues the message for every matching subscription. It blocks
// while a subscriber queue is full, until ctx is done.
func (b *Bus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return channel.ErrClosed
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	msg := channel.Message{
		ID:      strconv.FormatUint(b.seq.Add(1), 10),
		Topic:   topic,
		Key:     key,
		Payload: data,
	}

	for sub := range b.subs {
		if !sub.topics[topic] {
			continue
		}
		select {
		case sub.queue <- delivery{msg: msg, attempt: 1}:
		case <-sub.gone:
		case <-b.done:
			return channel.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a subscription and dispatches until ctx is done or
// the bus is closed. Messages published before Subscribe are not seen.
func (b *Bus) Subscribe(ctx context.Context, topics []string, h channel.Handler) error {
	sub := &subscription{
		topics: make(map[string]bool, len(topics)),
		queue:  make(chan delivery, b.cfg.Buffer),
		gone:   make(chan struct{}),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return channel.ErrClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	defer func() {
		// Unblock publishers waiting on this queue before taking the lock.
		close(sub.gone)
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case d := <-sub.queue:
			err := h(ctx, d.msg)
			if err == nil {
				continue
			}
			if d.attempt >= b.cfg.MaxDeliveries {
				b.log.Error("dropping message after max deliveries",
					"topic", d.msg.Topic, "message_id", d.msg.ID, "attempts", d.attempt, "error", err)
				continue
			}
			d.attempt++
			select {
			case sub.queue <- d:
			default:
				b.log.Error("dropping message, redelivery queue full",
					"topic", d.msg.Topic, "message_id", d.msg.ID, "error", err)
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops all subscriptions. Further publishes fail with ErrClosed.
func (b *Bus) Close() error {
	b.once.Do(func() {
		close(b.done)
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
	})
	return nil
}

var _ channel.Channel = (*Bus)(nil)
