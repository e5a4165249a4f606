// Package events defines the topics and payloads exchanged with the
// event-manager and notification services, and the emitter that publishes
// RSVP outcomes.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MahdiBaghbani/guestservice-go/internal/platform/channel"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/telemetry"
)

// Inbound topics.
const (
	TopicGuestInvited = "guest-invited"
	TopicGuestRemoved = "guest-removed"
	TopicEventDeleted = "event-deleted"
)

// Outbound topics.
const (
	TopicRSVPAccepted   = "rsvp-accepted"
	TopicRSVPDeclined   = "rsvp-declined"
	TopicGuestCheckedIn = "guest-checked-in"
)

// InboundTopics lists every topic the consumer subscribes to.
var InboundTopics = []string{TopicGuestInvited, TopicGuestRemoved, TopicEventDeleted}

var (
	// ErrMalformedMessage marks a payload that failed to decode or validate.
	// Such messages are dropped, never retried.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrPublishFailed marks an outbound publish that did not reach the channel.
	ErrPublishFailed = errors.New("publish failed")
)

// GuestInvited is the guest-invited payload.
type GuestInvited struct {
	EventID        string `json:"eventId" validate:"required,anyuuid"`
	UserID         string `json:"userId" validate:"required,anyuuid"`
	OrganizationID string `json:"organizationId" validate:"required,anyuuid"`
}

// GuestRemoved is the guest-removed payload.
type GuestRemoved struct {
	EventID string `json:"eventId" validate:"required,anyuuid"`
	UserID  string `json:"userId" validate:"required,anyuuid"`
}

// EventDeleted is the event-deleted payload.
type EventDeleted struct {
	EventID string `json:"eventId" validate:"required,anyuuid"`
}

// RSVPChanged is the payload of rsvp-accepted and rsvp-declined.
// WasAccepted tells attendee counters whether the guest was counted before.
type RSVPChanged struct {
	EventID     string    `json:"eventId"`
	UserID      string    `json:"userId"`
	WasAccepted bool      `json:"wasAccepted"`
	Timestamp   time.Time `json:"timestamp"`
}

// GuestCheckedIn is the guest-checked-in payload.
type GuestCheckedIn struct {
	EventID   string    `json:"eventId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

var validate = newValidator()

// newValidator adds anyuuid, which accepts any form uuid.Parse does. The
// built-in uuid tag only matches lower-case hex.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("anyuuid", func(fl validator.FieldLevel) bool {
		_, err := uuid.Parse(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// canonicalizer is implemented by payloads whose ids must be rewritten to
// the canonical lower-case form the HTTP layer stores.
type canonicalizer interface {
	canonicalize()
}

func (p *GuestInvited) canonicalize() {
	p.EventID = canonicalUUID(p.EventID)
	p.UserID = canonicalUUID(p.UserID)
	p.OrganizationID = canonicalUUID(p.OrganizationID)
}

func (p *GuestRemoved) canonicalize() {
	p.EventID = canonicalUUID(p.EventID)
	p.UserID = canonicalUUID(p.UserID)
}

func (p *EventDeleted) canonicalize() {
	p.EventID = canonicalUUID(p.EventID)
}

// canonicalUUID must only see values that passed anyuuid.
func canonicalUUID(s string) string {
	return uuid.MustParse(s).String()
}

// Decode unmarshals and validates an inbound payload, then canonicalizes
// its ids. Every failure wraps ErrMalformedMessage.
func Decode[T any](payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := validate.Struct(v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if c, ok := any(&v).(canonicalizer); ok {
		c.canonicalize()
	}
	return v, nil
}

// Emitter publishes RSVP outcomes. Publishing is fire-and-forget: failures
// are logged and never returned, because the state change they describe
// is already committed.
type Emitter struct {
	pub    channel.Publisher
	log    *slog.Logger
	tracer trace.Tracer
}

// NewEmitter creates an emitter on pub.
func NewEmitter(pub channel.Publisher, log *slog.Logger) *Emitter {
	return &Emitter{
		pub:    pub,
		log:    logutil.NoopIfNil(log),
		tracer: otel.Tracer(telemetry.InstrumentationName),
	}
}

// RSVPAccepted emits rsvp-accepted.
func (e *Emitter) RSVPAccepted(ctx context.Context, eventID, userID string, wasAccepted bool, at time.Time) {
	e.publish(ctx, TopicRSVPAccepted, eventID, RSVPChanged{
		EventID:     eventID,
		UserID:      userID,
		WasAccepted: wasAccepted,
		Timestamp:   at.UTC(),
	})
}

// RSVPDeclined emits rsvp-declined.
func (e *Emitter) RSVPDeclined(ctx context.Context, eventID, userID string, wasAccepted bool, at time.Time) {
	e.publish(ctx, TopicRSVPDeclined, eventID, RSVPChanged{
		EventID:     eventID,
		UserID:      userID,
		WasAccepted: wasAccepted,
		Timestamp:   at.UTC(),
	})
}

// GuestCheckedIn emits guest-checked-in.
func (e *Emitter) GuestCheckedIn(ctx context.Context, eventID, userID string, at time.Time) {
	e.publish(ctx, TopicGuestCheckedIn, eventID, GuestCheckedIn{
		EventID:   eventID,
		UserID:    userID,
		Timestamp: at.UTC(),
	})
}

func (e *Emitter) publish(ctx context.Context, topic, key string, v any) {
	ctx, span := e.tracer.Start(ctx, "publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.message.key", key),
		),
	)
	defer span.End()

	err := e.send(ctx, topic, key, v)
	if err == nil {
		e.log.Debug("event published", "topic", topic, "event_id", key)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.log.Error("event publish failed", "topic", topic, "event_id", key, "error", err)
}

func (e *Emitter) send(ctx context.Context, topic, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrPublishFailed, topic, err)
	}
	if err := e.pub.Publish(ctx, topic, key, payload); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPublishFailed, topic, err)
	}
	return nil
}
