// Package memory implements an in-memory invitation store.
// It is intended for development and tests; data does not survive restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/invitations"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store"
)

func init() {
	store.Register("memory", func(cfg *store.DriverConfig) (store.Driver, error) {
		return New(), nil
	})
}

// Store keeps invitations in maps guarded by a single mutex, which also
// serializes every read-modify-write.
type Store struct {
	mu          sync.RWMutex
	invitations map[string]*invitations.Invitation // id -> record
	byKey       map[string]string                  // "eventID\x00userID" -> id
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		invitations: make(map[string]*invitations.Invitation),
		byKey:       make(map[string]string),
	}
}

// naturalKey builds the composite key for the byKey index.
func naturalKey(eventID, userID string) string {
	return eventID + "\x00" + userID
}

func (s *Store) Name() string                   { return "memory" }
func (s *Store) Init(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func (s *Store) Create(ctx context.Context, inv *invitations.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := naturalKey(inv.EventID, inv.UserID)
	if _, exists := s.byKey[key]; exists {
		return invitations.ErrAlreadyExists
	}

	if inv.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		inv.ID = id.String()
	}
	if inv.InvitationReceivedAt.IsZero() {
		inv.InvitationReceivedAt = time.Now().UTC()
	}

	s.invitations[inv.ID] = inv.Clone()
	s.byKey[key] = inv.ID
	return nil
}

// lookup returns the stored record for the key. Caller holds s.mu.
func (s *Store) lookup(eventID, userID string) (*invitations.Invitation, bool) {
	id, ok := s.byKey[naturalKey(eventID, userID)]
	if !ok {
		return nil, false
	}
	inv, ok := s.invitations[id]
	return inv, ok
}

func (s *Store) Get(ctx context.Context, eventID, userID string) (*invitations.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.lookup(eventID, userID)
	if !ok {
		return nil, invitations.ErrNotFound
	}
	return inv.Clone(), nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*invitations.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invitations[id]
	if !ok {
		return nil, invitations.ErrNotFound
	}
	return inv.Clone(), nil
}

func (s *Store) Update(ctx context.Context, eventID, userID string, fn invitations.UpdateFunc) (*invitations.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.lookup(eventID, userID)
	if !ok {
		return nil, invitations.ErrNotFound
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}

	// Identity and creation fields are immutable.
	working.ID = current.ID
	working.EventID = current.EventID
	working.UserID = current.UserID
	working.OrganizationID = current.OrganizationID
	working.InvitationReceivedAt = current.InvitationReceivedAt
	working.Version = current.Version + 1

	s.invitations[current.ID] = working
	return working.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, eventID, userID string) (*invitations.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.lookup(eventID, userID)
	if !ok {
		return nil, invitations.ErrNotFound
	}
	delete(s.byKey, naturalKey(eventID, userID))
	delete(s.invitations, inv.ID)
	return inv, nil
}

func (s *Store) DeleteByEvent(ctx context.Context, eventID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, inv := range s.invitations {
		if inv.EventID != eventID {
			continue
		}
		delete(s.byKey, naturalKey(inv.EventID, inv.UserID))
		delete(s.invitations, id)
		n++
	}
	return n, nil
}

func (s *Store) List(ctx context.Context, f invitations.Filter) ([]*invitations.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*invitations.Invitation, 0)
	for _, inv := range s.invitations {
		if f.Matches(inv) {
			result = append(result, inv.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.InvitationReceivedAt.Equal(b.InvitationReceivedAt) {
			return a.InvitationReceivedAt.Before(b.InvitationReceivedAt)
		}
		return a.ID < b.ID
	})
	return result, nil
}

var _ store.Driver = (*Store)(nil)
