// Package invitations holds the guest invitation model, its RSVP state
// machine and the repository contract that store drivers implement.
package invitations

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no invitation exists for a key.
	ErrNotFound = errors.New("invitation not found")

	// ErrInvalidState is returned when an operation is not legal in the
	// invitation's current state (check-in before accept).
	ErrInvalidState = errors.New("invalid invitation state")

	// ErrAlreadyExists is returned by Create when the (event, user) key is taken.
	ErrAlreadyExists = errors.New("invitation already exists")

	// ErrConflict is returned when a concurrent writer kept winning the race
	// for the same invitation.
	ErrConflict = errors.New("concurrent invitation update")
)

// Invitation is the single record kept per (EventID, UserID).
type Invitation struct {
	ID                   string     `json:"id" gorm:"primaryKey;size:36"`
	EventID              string     `json:"eventId" gorm:"size:36;not null;uniqueIndex:idx_invitation_event_user,priority:1"`
	UserID               string     `json:"userId" gorm:"size:36;not null;uniqueIndex:idx_invitation_event_user,priority:2;index"`
	OrganizationID       string     `json:"organizationId" gorm:"size:36;not null;index;<-:create"`
	RSVPStatus           Status     `json:"rsvpStatus" gorm:"type:varchar(16);not null"`
	RespondedAt          *time.Time `json:"respondedAt"`
	CheckedIn            bool       `json:"checkedIn" gorm:"not null;default:false"`
	CheckedInAt          *time.Time `json:"checkedInAt"`
	InvitationReceivedAt time.Time  `json:"invitationReceivedAt" gorm:"not null;<-:create"`
	LastViewedAt         *time.Time `json:"lastViewedAt"`
	Version              int64      `json:"-" gorm:"not null;default:0"`
}

// TableName pins the table name for gorm drivers.
func (Invitation) TableName() string {
	return "invitations"
}

// Clone returns a deep copy so callers never share timestamp pointers with
// a store's internal state.
func (inv *Invitation) Clone() *Invitation {
	if inv == nil {
		return nil
	}
	c := *inv
	c.RespondedAt = cloneTime(inv.RespondedAt)
	c.CheckedInAt = cloneTime(inv.CheckedInAt)
	c.LastViewedAt = cloneTime(inv.LastViewedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Transition records a status change applied to one invitation.
type Transition struct {
	From Status
	To   Status
}

// WasAccepted reports whether the invitation was ACCEPTED immediately
// before the transition. Attendee-count consumers rely on it to adjust
// their count exactly once.
func (t Transition) WasAccepted() bool {
	return t.From == StatusAccepted
}

// Respond applies an RSVP decision and stamps RespondedAt.
func (inv *Invitation) Respond(r Response, at time.Time) (Transition, error) {
	next, err := inv.RSVPStatus.Respond(r)
	if err != nil {
		return Transition{}, err
	}
	tr := Transition{From: inv.RSVPStatus, To: next}
	inv.RSVPStatus = next
	inv.RespondedAt = &at
	return tr, nil
}

// CheckIn marks the guest as present. Only accepted invitations qualify.
func (inv *Invitation) CheckIn(at time.Time) error {
	if !inv.RSVPStatus.CanCheckIn() {
		return fmt.Errorf("%w: cannot check in with status %s", ErrInvalidState, inv.RSVPStatus)
	}
	inv.CheckedIn = true
	inv.CheckedInAt = &at
	return nil
}

// MarkViewed stamps LastViewedAt.
func (inv *Invitation) MarkViewed(at time.Time) {
	inv.LastViewedAt = &at
}

// Filter narrows List results. Empty fields are ignored; at least one
// field must be set.
type Filter struct {
	UserID         string
	EventID        string
	OrganizationID string
	Status         *Status
	CheckedIn      *bool
}

// IsEmpty reports whether no criteria are set.
func (f Filter) IsEmpty() bool {
	return f.UserID == "" && f.EventID == "" && f.OrganizationID == "" && f.Status == nil && f.CheckedIn == nil
}

// Matches reports whether inv satisfies every set criterion.
func (f Filter) Matches(inv *Invitation) bool {
	if f.UserID != "" && inv.UserID != f.UserID {
		return false
	}
	if f.EventID != "" && inv.EventID != f.EventID {
		return false
	}
	if f.OrganizationID != "" && inv.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Status != nil && inv.RSVPStatus != *f.Status {
		return false
	}
	if f.CheckedIn != nil && inv.CheckedIn != *f.CheckedIn {
		return false
	}
	return true
}

// UpdateFunc mutates an invitation inside Repo.Update. Returning an error
// aborts the update and leaves the stored record unchanged.
type UpdateFunc func(inv *Invitation) error

// Repo is the invitation store contract.
// Implementations must be safe for concurrent use and must serialize
// Update and Delete per (eventID, userID).
type Repo interface {
	// Create inserts inv. It fails with ErrAlreadyExists when the natural key
	// is taken, leaving the existing record untouched.
	Create(ctx context.Context, inv *Invitation) error

	// Get returns the invitation for the natural key.
	Get(ctx context.Context, eventID, userID string) (*Invitation, error)

	// GetByID returns the invitation with the given id.
	GetByID(ctx context.Context, id string) (*Invitation, error)

	// Update runs fn against the current record and persists the result as
	// one atomic read-modify-write.
	Update(ctx context.Context, eventID, userID string, fn UpdateFunc) (*Invitation, error)

	// Delete removes the invitation and returns the record as it was.
	Delete(ctx context.Context, eventID, userID string) (*Invitation, error)

	// DeleteByEvent removes every invitation of an event and returns the count.
	DeleteByEvent(ctx context.Context, eventID string) (int64, error)

	// List returns invitations matching f ordered by InvitationReceivedAt, ID.
	List(ctx context.Context, f Filter) ([]*Invitation, error)
}
