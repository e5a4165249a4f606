package rsvp

import (
	"context"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/invitations"
)

// Queries are read-only and ordered by invitationReceivedAt, then id.

// ListByUser returns every invitation of a user.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*invitations.Invitation, error) {
	return s.repo.List(ctx, invitations.Filter{UserID: userID})
}

// GetByEventAndUser returns one invitation or invitations.ErrNotFound.
func (s *Service) GetByEventAndUser(ctx context.Context, eventID, userID string) (*invitations.Invitation, error) {
	return s.repo.Get(ctx, eventID, userID)
}

// ListAcceptedByUser returns the invitations a user accepted.
func (s *Service) ListAcceptedByUser(ctx context.Context, userID string) ([]*invitations.Invitation, error) {
	accepted := invitations.StatusAccepted
	return s.repo.List(ctx, invitations.Filter{UserID: userID, Status: &accepted})
}

// ListByEvent returns the guest list of an event.
func (s *Service) ListByEvent(ctx context.Context, eventID string) ([]*invitations.Invitation, error) {
	return s.repo.List(ctx, invitations.Filter{EventID: eventID})
}

// ListByOrganization returns every invitation issued under an organization.
func (s *Service) ListByOrganization(ctx context.Context, organizationID string) ([]*invitations.Invitation, error) {
	return s.repo.List(ctx, invitations.Filter{OrganizationID: organizationID})
}

// ListCheckedIn returns the guests of an event that have checked in.
func (s *Service) ListCheckedIn(ctx context.Context, eventID string) ([]*invitations.Invitation, error) {
	yes := true
	return s.repo.List(ctx, invitations.Filter{EventID: eventID, CheckedIn: &yes})
}

// ListByEventAndStatus returns an event's invitations in one RSVP state.
func (s *Service) ListByEventAndStatus(ctx context.Context, eventID string, status invitations.Status) ([]*invitations.Invitation, error) {
	return s.repo.List(ctx, invitations.Filter{EventID: eventID, Status: &status})
}
