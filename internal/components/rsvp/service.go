// Package rsvp is the guest invitation service: RSVP actions, the reducers
// for inbound lifecycle events and the read-only query surface.
package rsvp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/invitations"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/logutil"
)

// Emitter publishes RSVP outcomes. *events.Emitter implements it.
type Emitter interface {
	RSVPAccepted(ctx context.Context, eventID, userID string, wasAccepted bool, at time.Time)
	RSVPDeclined(ctx context.Context, eventID, userID string, wasAccepted bool, at time.Time)
	GuestCheckedIn(ctx context.Context, eventID, userID string, at time.Time)
}

// Service applies RSVP transitions and keeps invitations in step with the
// event lifecycle. It holds no locks of its own; per-key atomicity comes
// from invitations.Repo.
type Service struct {
	repo    invitations.Repo
	emitter Emitter
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for every timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service.
func NewService(repo invitations.Repo, emitter Emitter, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		emitter: emitter,
		log:     logutil.NoopIfNil(log),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accept records an ACCEPTED response and emits rsvp-accepted.
func (s *Service) Accept(ctx context.Context, eventID, userID string) (*invitations.Invitation, error) {
	inv, tr, at, err := s.respond(ctx, eventID, userID, invitations.ResponseAccept)
	if err != nil {
		return nil, err
	}
	s.emitter.RSVPAccepted(ctx, eventID, userID, tr.WasAccepted(), at)
	return inv, nil
}

// Decline records a DECLINED response and emits rsvp-declined.
func (s *Service) Decline(ctx context.Context, eventID, userID string) (*invitations.Invitation, error) {
	inv, tr, at, err := s.respond(ctx, eventID, userID, invitations.ResponseDecline)
	if err != nil {
		return nil, err
	}
	s.emitter.RSVPDeclined(ctx, eventID, userID, tr.WasAccepted(), at)
	return inv, nil
}

// RespondMaybe records a MAYBE response. It emits nothing, including when
// the guest was previously ACCEPTED.
func (s *Service) RespondMaybe(ctx context.Context, eventID, userID string) (*invitations.Invitation, error) {
	inv, tr, _, err := s.respond(ctx, eventID, userID, invitations.ResponseMaybe)
	if err != nil {
		return nil, err
	}
	if tr.WasAccepted() {
		s.log.Warn("accepted guest moved to maybe, attendee count not adjusted",
			"event_id", eventID, "user_id", userID)
	}
	return inv, nil
}

func (s *Service) respond(ctx context.Context, eventID, userID string, r invitations.Response) (*invitations.Invitation, invitations.Transition, time.Time, error) {
	var (
		tr invitations.Transition
		at time.Time
	)
	inv, err := s.repo.Update(ctx, eventID, userID, func(inv *invitations.Invitation) error {
		at = s.now()
		var err error
		tr, err = inv.Respond(r, at)
		return err
	})
	if err != nil {
		return nil, tr, at, fmt.Errorf("%s invitation: %w", r, err)
	}

	s.log.Info("rsvp recorded",
		"event_id", eventID, "user_id", userID,
		"from", tr.From.String(), "to", tr.To.String())
	return inv, tr, at, nil
}

// CheckIn marks an accepted guest as present and emits guest-checked-in.
func (s *Service) CheckIn(ctx context.Context, eventID, userID string) (*invitations.Invitation, error) {
	var at time.Time
	inv, err := s.repo.Update(ctx, eventID, userID, func(inv *invitations.Invitation) error {
		at = s.now()
		return inv.CheckIn(at)
	})
	if err != nil {
		return nil, fmt.Errorf("check in: %w", err)
	}

	s.log.Info("guest checked in", "event_id", eventID, "user_id", userID)
	s.emitter.GuestCheckedIn(ctx, eventID, userID, at)
	return inv, nil
}

// MarkViewed stamps lastViewedAt. A missing invitation is not an error.
func (s *Service) MarkViewed(ctx context.Context, eventID, userID string) error {
	_, err := s.repo.Update(ctx, eventID, userID, func(inv *invitations.Invitation) error {
		inv.MarkViewed(s.now())
		return nil
	})
	if errors.Is(err, invitations.ErrNotFound) {
		return nil
	}
	return err
}

// OnGuestInvited creates a PENDING invitation. A redelivered message finds
// the key taken and is ignored.
func (s *Service) OnGuestInvited(ctx context.Context, eventID, userID, organizationID string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}

	inv := &invitations.Invitation{
		ID:                   id.String(),
		EventID:              eventID,
		UserID:               userID,
		OrganizationID:       organizationID,
		RSVPStatus:           invitations.StatusPending,
		InvitationReceivedAt: s.now(),
	}

	err = s.repo.Create(ctx, inv)
	switch {
	case errors.Is(err, invitations.ErrAlreadyExists):
		s.log.Warn("duplicate guest-invited ignored", "event_id", eventID, "user_id", userID)
		return nil
	case err != nil:
		return fmt.Errorf("create invitation: %w", err)
	}

	s.log.Info("invitation created", "event_id", eventID, "user_id", userID, "invitation_id", inv.ID)
	return nil
}

// OnGuestRemoved deletes the invitation. When the guest had accepted, a
// compensating rsvp-declined{wasAccepted:true} keeps attendee counts right.
func (s *Service) OnGuestRemoved(ctx context.Context, eventID, userID string) error {
	deleted, err := s.repo.Delete(ctx, eventID, userID)
	if errors.Is(err, invitations.ErrNotFound) {
		s.log.Debug("guest-removed for unknown invitation", "event_id", eventID, "user_id", userID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete invitation: %w", err)
	}

	s.log.Info("invitation removed", "event_id", eventID, "user_id", userID, "status", deleted.RSVPStatus.String())
	if deleted.RSVPStatus == invitations.StatusAccepted {
		s.emitter.RSVPDeclined(ctx, eventID, userID, true, s.now())
	}
	return nil
}

// OnEventDeleted deletes every invitation of the event. The event-manager
// already knows the event is gone, so nothing is emitted.
func (s *Service) OnEventDeleted(ctx context.Context, eventID string) error {
	n, err := s.repo.DeleteByEvent(ctx, eventID)
	if err != nil {
		return err
	}
	s.log.Info("invitations deleted for event", "event_id", eventID, "count", n)
	return nil
}
