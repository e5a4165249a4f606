// Package consumer decodes inbound lifecycle events and hands them to the
// invitation reducers.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/rsvp/events"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/channel"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/telemetry"
)

// Reducers absorbs inbound events. *rsvp.Service implements it.
type Reducers interface {
	OnGuestInvited(ctx context.Context, eventID, userID, organizationID string) error
	OnGuestRemoved(ctx context.Context, eventID, userID string) error
	OnEventDeleted(ctx context.Context, eventID string) error
}

var errUnknownTopic = errors.New("unknown topic")

// Consumer runs the single subscription loop of the process.
type Consumer struct {
	sub      channel.Subscriber
	reducers Reducers
	log      *slog.Logger
	tracer   trace.Tracer
}

// New creates a consumer.
func New(sub channel.Subscriber, reducers Reducers, log *slog.Logger) *Consumer {
	return &Consumer{
		sub:      sub,
		reducers: reducers,
		log:      logutil.NoopIfNil(log),
		tracer:   otel.Tracer(telemetry.InstrumentationName),
	}
}

// Run subscribes to the inbound topics and blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer started", "topics", events.InboundTopics)
	err := c.sub.Subscribe(ctx, events.InboundTopics, c.Handle)
	c.log.Info("consumer stopped")
	return err
}

// Handle processes one message. Malformed payloads and unknown topics are
// logged and acknowledged; any other reducer error is returned so the
// channel redelivers the message.
func (c *Consumer) Handle(ctx context.Context, msg channel.Message) error {
	ctx, span := c.tracer.Start(ctx, "consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.message.id", msg.ID),
		),
	)
	defer span.End()

	err := c.dispatch(ctx, msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, events.ErrMalformedMessage):
		c.log.Warn("dropping malformed message",
			"topic", msg.Topic, "message_id", msg.ID, "error", err)
		return nil
	case errors.Is(err, errUnknownTopic):
		c.log.Warn("dropping message on unknown topic",
			"topic", msg.Topic, "message_id", msg.ID)
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.log.Error("failed to process message",
		"topic", msg.Topic, "message_id", msg.ID, "error", err)
	return err
}

func (c *Consumer) dispatch(ctx context.Context, msg channel.Message) error {
	switch msg.Topic {
	case events.TopicGuestInvited:
		p, err := events.Decode[events.GuestInvited](msg.Payload)
		if err != nil {
			return err
		}
		return c.reducers.OnGuestInvited(ctx, p.EventID, p.UserID, p.OrganizationID)

	case events.TopicGuestRemoved:
		p, err := events.Decode[events.GuestRemoved](msg.Payload)
		if err != nil {
			return err
		}
		return c.reducers.OnGuestRemoved(ctx, p.EventID, p.UserID)

	case events.TopicEventDeleted:
		p, err := events.Decode[events.EventDeleted](msg.Payload)
		if err != nil {
			return err
		}
		return c.reducers.OnEventDeleted(ctx, p.EventID)

	default:
		return fmt.Errorf("%w: %s", errUnknownTopic, msg.Topic)
	}
}
