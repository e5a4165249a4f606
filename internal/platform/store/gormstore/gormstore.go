// Package gormstore implements invitations.Repo on top of gorm. It is shared
// by the sqlite, postgres and mirror drivers, which differ only in how they
// open the database.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/invitations"
)

// DefaultMaxUpdateAttempts bounds optimistic retries when DriverConfig
// leaves MaxUpdateAttempts at zero.
const DefaultMaxUpdateAttempts = 8

// errStaleVersion signals that another writer bumped the version between
// our read and our write. It is retried and never escapes Update.
var errStaleVersion = errors.New("stale invitation version")

// Repo is a gorm-backed invitation repository.
type Repo struct {
	db          *gorm.DB
	maxAttempts int
	now         func() time.Time
}

// New wraps db. maxAttempts <= 0 selects DefaultMaxUpdateAttempts.
func New(db *gorm.DB, maxAttempts int) *Repo {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxUpdateAttempts
	}
	return &Repo{
		db:          db,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates or updates the invitations table and its indexes.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&invitations.Invitation{})
}

// DB exposes the underlying handle to drivers that need it for exports.
func (r *Repo) DB() *gorm.DB {
	return r.db
}

func (r *Repo) Create(ctx context.Context, inv *invitations.Invitation) error {
	if inv.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		inv.ID = id.String()
	}
	if inv.InvitationReceivedAt.IsZero() {
		inv.InvitationReceivedAt = r.now()
	}

	// Insert, ignore conflict: the unique index decides, never a prior read.
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(inv)
	if result.Error != nil {
		return fmt.Errorf("create invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return invitations.ErrAlreadyExists
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, eventID, userID string) (*invitations.Invitation, error) {
	return r.take(r.db.WithContext(ctx), "event_id = ? AND user_id = ?", eventID, userID)
}

func (r *Repo) GetByID(ctx context.Context, id string) (*invitations.Invitation, error) {
	return r.take(r.db.WithContext(ctx), "id = ?", id)
}

func (r *Repo) take(db *gorm.DB, query string, args ...any) (*invitations.Invitation, error) {
	var inv invitations.Invitation
	if err := db.Where(query, args...).Take(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invitations.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// Update performs an optimistic read-modify-write. fn may run more than
// once when writers race; it must only touch the record it is given.
func (r *Repo) Update(ctx context.Context, eventID, userID string, fn invitations.UpdateFunc) (*invitations.Invitation, error) {
	attempt := func() (*invitations.Invitation, error) {
		current, err := r.Get(ctx, eventID, userID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		working := current.Clone()
		if err := fn(working); err != nil {
			return nil, backoff.Permanent(err)
		}
		working.Version = current.Version + 1

		result := r.db.WithContext(ctx).
			Model(&invitations.Invitation{}).
			Where("id = ? AND version = ?", current.ID, current.Version).
			Updates(map[string]any{
				"rsvp_status":    working.RSVPStatus,
				"responded_at":   working.RespondedAt,
				"checked_in":     working.CheckedIn,
				"checked_in_at":  working.CheckedInAt,
				"last_viewed_at": working.LastViewedAt,
				"version":        working.Version,
			})
		if result.Error != nil {
			return nil, backoff.Permanent(result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, errStaleVersion
		}

		// Identity and creation fields are immutable.
		working.ID = current.ID
		working.EventID = current.EventID
		working.UserID = current.UserID
		working.OrganizationID = current.OrganizationID
		working.InvitationReceivedAt = current.InvitationReceivedAt
		return working, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	inv, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.maxAttempts)),
	)
	if errors.Is(err, errStaleVersion) {
		return nil, fmt.Errorf("%w: event %s user %s", invitations.ErrConflict, eventID, userID)
	}
	return inv, err
}

// Delete removes the record inside a transaction and returns it. When two
// deletes race, only the one whose DELETE hits a row gets the snapshot.
func (r *Repo) Delete(ctx context.Context, eventID, userID string) (*invitations.Invitation, error) {
	var deleted *invitations.Invitation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := r.take(tx, "event_id = ? AND user_id = ?", eventID, userID)
		if err != nil {
			return err
		}
		result := tx.Where("id = ?", inv.ID).Delete(&invitations.Invitation{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return invitations.ErrNotFound
		}
		deleted = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *Repo) DeleteByEvent(ctx context.Context, eventID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Delete(&invitations.Invitation{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete invitations of event %s: %w", eventID, result.Error)
	}
	return result.RowsAffected, nil
}

func (r *Repo) List(ctx context.Context, f invitations.Filter) ([]*invitations.Invitation, error) {
	query := r.db.WithContext(ctx)
	if f.UserID != "" {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.EventID != "" {
		query = query.Where("event_id = ?", f.EventID)
	}
	if f.OrganizationID != "" {
		query = query.Where("organization_id = ?", f.OrganizationID)
	}
	if f.Status != nil {
		query = query.Where("rsvp_status = ?", *f.Status)
	}
	if f.CheckedIn != nil {
		query = query.Where("checked_in = ?", *f.CheckedIn)
	}

	result := make([]*invitations.Invitation, 0)
	if err := query.Order("invitation_received_at, id").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

var _ invitations.Repo = (*Repo)(nil)
