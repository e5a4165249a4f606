// Package valkey implements the channel on Redis/Valkey Streams. Each topic
// is a stream; every replica of the service joins the same consumer group
// so an entry is handled by one replica and acknowledged only after its
// handler succeeds.
package valkey

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/valkey-io/valkey-go"
	"golang.org/x/sync/errgroup"

	"github.com/MahdiBaghbani/guestservice-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/channel"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/logutil"
)

// Stream entry fields.
const (
	FieldKey     = "key"
	FieldPayload = "payload"
)

func init() {
	channel.RegisterDriver("valkey", func(config map[string]any, log *slog.Logger) (channel.Channel, error) {
		var c Config
		if err := cfg.Decode(config, &c); err != nil {
			return nil, err
		}
		return New(c, log)
	})
}

// Config is the [channel.drivers.valkey] table.
type Config struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	Group         string `mapstructure:"group"`
	Consumer      string `mapstructure:"consumer"`
	BlockMS       int    `mapstructure:"block_ms"`
	Count         int    `mapstructure:"count"`
	DialTimeoutMS int    `mapstructure:"dial_timeout_ms"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.Group == "" {
		c.Group = "guest-service"
	}
	if c.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "guest-service"
		}
		c.Consumer = host
	}
	if c.BlockMS <= 0 {
		c.BlockMS = 5000
	}
	if c.Count <= 0 {
		c.Count = 16
	}
	if c.DialTimeoutMS <= 0 {
		c.DialTimeoutMS = 5000
	}
}

// Channel is a streams-backed channel.Channel.
type Channel struct {
	client valkey.Client
	cfg    Config
	log    *slog.Logger
}

// New connects to the server. It fails fast when the server is unreachable.
func New(c Config, log *slog.Logger) (*Channel, error) {
	c.ApplyDefaults()

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{c.Addr},
		Password:     c.Password,
		SelectDB:     c.DB,
		DisableCache: true,
		Dialer:       net.Dialer{Timeout: time.Duration(c.DialTimeoutMS) * time.Millisecond},
	})
	if err != nil {
		return nil, fmt.Errorf("connect valkey %s: %w", c.Addr, err)
	}

	return &Channel{
		client: client,
		cfg:    c,
		log:    logutil.NoopIfNil(log),
	}, nil
}

// Publish appends an entry to the topic stream.
func (c *Channel) Publish(ctx context.Context, topic, key string, payload []byte) error {
	cmd := c.client.B().Xadd().Key(topic).Id("*").
		FieldValue().
		FieldValue(FieldKey, key).
		FieldValue(FieldPayload, valkey.BinaryString(payload)).
		Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

// ensureGroups creates the consumer group on every topic. Existing groups
// are left alone.
func (c *Channel) ensureGroups(ctx context.Context, topics []string) error {
	for _, topic := range topics {
		cmd := c.client.B().XgroupCreate().Key(topic).Group(c.cfg.Group).Id("$").Mkstream().Build()
		if err := c.client.Do(ctx, cmd).Error(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", c.cfg.Group, topic, err)
		}
	}
	return nil
}

// Subscribe first redelivers entries this consumer read but never
// acknowledged, then follows new entries until ctx is done. A handler error
// leaves the entry pending; pending entries are retried on the next pass.
//
// Every topic is read by its own loop with single-stream XREADGROUP calls,
// since a cluster-mode client rejects commands whose keys span slots.
// Handler calls are still serialized across topics.
func (c *Channel) Subscribe(ctx context.Context, topics []string, h channel.Handler) error {
	if len(topics) == 0 {
		return fmt.Errorf("subscribe: no topics")
	}
	if err := c.ensureGroups(ctx, topics); err != nil {
		return err
	}

	var mu sync.Mutex
	serial := func(ctx context.Context, msg channel.Message) error {
		mu.Lock()
		defer mu.Unlock()
		return h(ctx, msg)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range topics {
		g.Go(func() error {
			c.follow(gctx, topic, serial)
			return nil
		})
	}
	return g.Wait()
}

// follow runs the read loop of one stream until ctx is done.
func (c *Channel) follow(ctx context.Context, topic string, h channel.Handler) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	// stuck records that the last pending pass left entries unacknowledged.
	drainNext, stuck := true, false
	for ctx.Err() == nil {
		var (
			failed bool
			err    error
		)
		if drainNext {
			failed, err = c.drainPending(ctx, topic, h)
		} else {
			failed, err = c.readNew(ctx, topic, h)
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := b.NextBackOff()
			c.log.Warn("stream read failed", "topic", topic, "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()

		// After a pending pass, always go back to new entries so a failing
		// entry cannot starve the stream; it is retried on the next pass.
		if drainNext {
			drainNext, stuck = false, failed
			if failed {
				c.waitBeforeRetry(ctx)
			}
			continue
		}
		drainNext = failed || stuck
	}
}

func (c *Channel) waitBeforeRetry(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(c.cfg.BlockMS) * time.Millisecond):
	}
}

// drainPending walks this consumer's pending entries list of one stream
// once.
func (c *Channel) drainPending(ctx context.Context, topic string, h channel.Handler) (bool, error) {
	last := "0"
	anyFailed := false
	for {
		cmd := c.client.B().Xreadgroup().Group(c.cfg.Group, c.cfg.Consumer).
			Count(int64(c.cfg.Count)).
			Streams().Key(topic).Id(last).
			Build()
		streams, err := c.client.Do(ctx, cmd).AsXRead()
		if err != nil {
			if valkey.IsValkeyNil(err) {
				return anyFailed, nil
			}
			return anyFailed, err
		}

		entries := streams[topic]
		if len(entries) == 0 {
			return anyFailed, nil
		}
		for _, e := range entries {
			if !c.dispatch(ctx, topic, e, h) {
				anyFailed = true
			}
			last = e.ID
		}
	}
}

// readNew blocks for entries of one stream never delivered to the group.
func (c *Channel) readNew(ctx context.Context, topic string, h channel.Handler) (bool, error) {
	cmd := c.client.B().Xreadgroup().Group(c.cfg.Group, c.cfg.Consumer).
		Count(int64(c.cfg.Count)).
		Block(int64(c.cfg.BlockMS)).
		Streams().Key(topic).Id(">").
		Build()
	streams, err := c.client.Do(ctx, cmd).AsXRead()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, err
	}

	anyFailed := false
	for _, e := range streams[topic] {
		if !c.dispatch(ctx, topic, e, h) {
			anyFailed = true
		}
	}
	return anyFailed, nil
}

// dispatch runs the handler and acknowledges on success. It reports
// whether the entry was acknowledged.
func (c *Channel) dispatch(ctx context.Context, topic string, e valkey.XRangeEntry, h channel.Handler) bool {
	msg := channel.Message{
		ID:      e.ID,
		Topic:   topic,
		Key:     e.FieldValues[FieldKey],
		Payload: []byte(e.FieldValues[FieldPayload]),
	}

	if err := h(ctx, msg); err != nil {
		c.log.Warn("handler failed, entry left pending",
			"topic", topic, "message_id", e.ID, "error", err)
		return false
	}

	ack := c.client.B().Xack().Key(topic).Group(c.cfg.Group).Id(e.ID).Build()
	if err := c.client.Do(ctx, ack).Error(); err != nil {
		c.log.Error("xack failed", "topic", topic, "message_id", e.ID, "error", err)
		return false
	}
	return true
}

// Close releases the connection pool.
func (c *Channel) Close() error {
	c.client.Close()
	return nil
}

var _ channel.Channel = (*Channel)(nil)
