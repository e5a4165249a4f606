// Package storetest provides the shared conformance suite for store drivers.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/invitations"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store"
)

// NewInvitation builds a pending invitation with fresh random identifiers.
func NewInvitation() *invitations.Invitation {
	return &invitations.Invitation{
		EventID:        uuid.NewString(),
		UserID:         uuid.NewString(),
		OrganizationID: uuid.NewString(),
		RSVPStatus:     invitations.StatusPending,
	}
}

// RunDriverTests runs the standard suite against a freshly created driver.
func RunDriverTests(t *testing.T, driverName string, cfg *store.DriverConfig) {
	ctx := context.Background()

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create %s driver: %v", driverName, err)
	}
	defer driver.Close()

	if err := driver.Init(ctx); err != nil {
		t.Fatalf("failed to init %s driver: %v", driverName, err)
	}

	if driver.Name() != driverName {
		t.Errorf("expected driver name %q, got %q", driverName, driver.Name())
	}

	t.Run("CreateAndGet", func(t *testing.T) { TestCreateAndGet(t, ctx, driver) })
	t.Run("CreateConflict", func(t *testing.T) { TestCreateConflict(t, ctx, driver) })
	t.Run("Update", func(t *testing.T) { TestUpdate(t, ctx, driver) })
	t.Run("UpdateAbort", func(t *testing.T) { TestUpdateAbort(t, ctx, driver) })
	t.Run("ConcurrentUpdate", func(t *testing.T) { TestConcurrentUpdate(t, ctx, driver) })
	t.Run("Delete", func(t *testing.T) { TestDelete(t, ctx, driver) })
	t.Run("DeleteByEvent", func(t *testing.T) { TestDeleteByEvent(t, ctx, driver) })
	t.Run("ListFilters", func(t *testing.T) { TestListFilters(t, ctx, driver) })
}

// TestCreateAndGet covers Create, Get and GetByID.
func TestCreateAndGet(t *testing.T, ctx context.Context, r invitations.Repo) {
	inv := NewInvitation()
	if err := r.Create(ctx, inv); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := uuid.Parse(inv.ID); err != nil {
		t.Errorf("expected generated UUID id, got %q", inv.ID)
	}
	if inv.InvitationReceivedAt.IsZero() {
		t.Error("expected InvitationReceivedAt to be stamped")
	}

	got, err := r.Get(ctx, inv.EventID, inv.UserID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != inv.ID || got.OrganizationID != inv.OrganizationID {
		t.Errorf("Get returned %+v, want id %s org %s", got, inv.ID, inv.OrganizationID)
	}
	if got.RSVPStatus != invitations.StatusPending || got.RespondedAt != nil || got.CheckedIn {
		t.Errorf("unexpected initial state %+v", got)
	}

	byID, err := r.GetByID(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if byID.EventID != inv.EventID {
		t.Errorf("GetByID returned event %s, want %s", byID.EventID, inv.EventID)
	}

	if _, err := r.Get(ctx, inv.EventID, uuid.NewString()); !errors.Is(err, invitations.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.GetByID(ctx, uuid.NewString()); !errors.Is(err, invitations.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestCreateConflict verifies that a second insert for the same natural key
// reports ErrAlreadyExists and leaves the first record untouched.
func TestCreateConflict(t *testing.T, ctx context.Context, r invitations.Repo) {
	inv := NewInvitation()
	if err := r.Create(ctx, inv); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := r.Update(ctx, inv.EventID, inv.UserID, func(i *invitations.Invitation) error {
		_, err := i.Respond(invitations.ResponseAccept, time.Now().UTC())
		return err
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	dup := &invitations.Invitation{
		EventID:        inv.EventID,
		UserID:         inv.UserID,
		OrganizationID: uuid.NewString(),
	}
	if err := r.Create(ctx, dup); !errors.Is(err, invitations.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := r.Get(ctx, inv.EventID, inv.UserID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != inv.ID || got.RSVPStatus != invitations.StatusAccepted || got.OrganizationID != inv.OrganizationID {
		t.Errorf("duplicate insert modified existing record: %+v", got)
	}
}

// TestUpdate verifies a read-modify-write is persisted and identity is kept.
func TestUpdate(t *testing.T, ctx context.Context, r invitations.Repo) {
	inv := NewInvitation()
	if err := r.Create(ctx, inv); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	updated, err := r.Update(ctx, inv.EventID, inv.UserID, func(i *invitations.Invitation) error {
		if _, err := i.Respond(invitations.ResponseAccept, at); err != nil {
			return err
		}
		i.OrganizationID = "ignored"
		return i.CheckIn(at)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.RSVPStatus != invitations.StatusAccepted || !updated.CheckedIn {
		t.Errorf("Update returned %+v", updated)
	}

	got, err := r.Get(ctx, inv.EventID, inv.UserID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RSVPStatus != invitations.StatusAccepted {
		t.Errorf("expected ACCEPTED, got %s", got.RSVPStatus)
	}
	if !got.CheckedIn || got.CheckedInAt == nil || got.RespondedAt == nil {
		t.Errorf("expected check-in and response timestamps, got %+v", got)
	}
	if !got.RespondedAt.Equal(at) {
		t.Errorf("RespondedAt = %v, want %v", got.RespondedAt, at)
	}
	if got.OrganizationID != inv.OrganizationID {
		t.Errorf("OrganizationID changed to %q", got.OrganizationID)
	}

	if _, err := r.Update(ctx, inv.EventID, uuid.NewString(), func(*invitations.Invitation) error {
		t.Error("fn must not run for a missing record")
		return nil
	}); !errors.Is(err, invitations.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestUpdateAbort verifies an error from fn leaves the record unchanged.
func TestUpdateAbort(t *testing.T, ctx context.Context, r invitations.Repo) {
	inv := NewInvitation()
	if err := r.Create(ctx, inv); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err := r.Update(ctx, inv.EventID, inv.UserID, func(i *invitations.Invitation) error {
		return i.CheckIn(time.Now())
	})
	if !errors.Is(err, invitations.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	got, err := r.Get(ctx, inv.EventID, inv.UserID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CheckedIn || got.RSVPStatus != invitations.StatusPending {
		t.Errorf("aborted update was persisted: %+v", got)
	}
}

// TestConcurrentUpdate runs racing accepts and asserts exactly one of them
// observed the PENDING state.
func TestConcurrentUpdate(t *testing.T, ctx context.Context, r invitations.Repo) {
	inv := NewInvitation()
	if err := r.Create(ctx, inv); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const workers = 8
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		firstAccept int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var tr invitations.Transition
			_, err := r.Update(ctx, inv.EventID, inv.UserID, func(i *invitations.Invitation) error {
				var err error
				tr, err = i.Respond(invitations.ResponseAccept, time.Now().UTC())
				return err
			})
			if err != nil {
				t.Errorf("Update failed: %v", err)
				return
			}
			if tr.From == invitations.StatusPending {
				mu.Lock()
				firstAccept++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstAccept != 1 {
		t.Errorf("expected exactly one transition from PENDING, got %d", firstAccept)
	}
}

// TestDelete verifies Delete returns the removed snapshot.
func TestDelete(t *testing.T, ctx context.Context, r invitations.Repo) {
	inv := NewInvitation()
	if err := r.Create(ctx, inv); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := r.Update(ctx, inv.EventID, inv.UserID, func(i *invitations.Invitation) error {
		_, err := i.Respond(invitations.ResponseAccept, time.Now().UTC())
		return err
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	deleted, err := r.Delete(ctx, inv.EventID, inv.UserID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if deleted.ID != inv.ID || deleted.RSVPStatus != invitations.StatusAccepted {
		t.Errorf("unexpected snapshot %+v", deleted)
	}

	if _, err := r.Get(ctx, inv.EventID, inv.UserID); !errors.Is(err, invitations.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := r.Delete(ctx, inv.EventID, inv.UserID); !errors.Is(err, invitations.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

// TestDeleteByEvent verifies only the target event's invitations go.
func TestDeleteByEvent(t *testing.T, ctx context.Context, r invitations.Repo) {
	eventID := uuid.NewString()
	for range 3 {
		inv := NewInvitation()
		inv.EventID = eventID
		if err := r.Create(ctx, inv); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	other := NewInvitation()
	if err := r.Create(ctx, other); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	n, err := r.DeleteByEvent(ctx, eventID)
	if err != nil {
		t.Fatalf("DeleteByEvent failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 deleted, got %d", n)
	}

	left, err := r.List(ctx, invitations.Filter{EventID: eventID})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("expected no invitations left, got %d", len(left))
	}
	if _, err := r.Get(ctx, other.EventID, other.UserID); err != nil {
		t.Errorf("unrelated invitation removed: %v", err)
	}

	n, err = r.DeleteByEvent(ctx, eventID)
	if err != nil || n != 0 {
		t.Errorf("second DeleteByEvent = %d, %v; want 0, nil", n, err)
	}
}

// TestListFilters covers every Filter field and the list ordering.
func TestListFilters(t *testing.T, ctx context.Context, r invitations.Repo) {
	eventID := uuid.NewString()
	orgID := uuid.NewString()
	userID := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Second)

	// Inserted out of order to exercise sorting.
	offsets := []time.Duration{2 * time.Second, 0, time.Second}
	created := make([]*invitations.Invitation, 0, len(offsets))
	for _, off := range offsets {
		inv := NewInvitation()
		inv.EventID = eventID
		inv.OrganizationID = orgID
		inv.InvitationReceivedAt = base.Add(off)
		if err := r.Create(ctx, inv); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		created = append(created, inv)
	}
	mine := NewInvitation()
	mine.UserID = userID
	if err := r.Create(ctx, mine); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	accepted := created[0]
	if _, err := r.Update(ctx, accepted.EventID, accepted.UserID, func(i *invitations.Invitation) error {
		if _, err := i.Respond(invitations.ResponseAccept, base); err != nil {
			return err
		}
		return i.CheckIn(base)
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	byEvent, err := r.List(ctx, invitations.Filter{EventID: eventID})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(byEvent) != 3 {
		t.Fatalf("expected 3 invitations, got %d", len(byEvent))
	}
	wantOrder := []string{created[1].ID, created[2].ID, created[0].ID}
	for i, inv := range byEvent {
		if inv.ID != wantOrder[i] {
			t.Errorf("position %d: got %s, want %s", i, inv.ID, wantOrder[i])
		}
	}

	status := invitations.StatusAccepted
	yes := true
	tests := []struct {
		name string
		f    invitations.Filter
		want int
	}{
		{"user", invitations.Filter{UserID: userID}, 1},
		{"organization", invitations.Filter{OrganizationID: orgID}, 3},
		{"event and status", invitations.Filter{EventID: eventID, Status: &status}, 1},
		{"checked in", invitations.Filter{EventID: eventID, CheckedIn: &yes}, 1},
		{"unknown user", invitations.Filter{UserID: uuid.NewString()}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.List(ctx, tt.f)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if got == nil {
				t.Fatal("List must return an empty slice, not nil")
			}
			if len(got) != tt.want {
				t.Errorf("expected %d, got %d", tt.want, len(got))
			}
		})
	}
}
