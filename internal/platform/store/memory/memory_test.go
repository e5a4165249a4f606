package memory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/invitations"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store/memory"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store/storetest"
)

func TestMemoryDriver(t *testing.T) {
	storetest.RunDriverTests(t, "memory", &store.DriverConfig{Driver: "memory"})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	inv := storetest.NewInvitation()
	if err := s.Create(ctx, inv); err != nil {
		t.Fatal(err)
	}
	inv.RSVPStatus = invitations.StatusDeclined

	got, err := s.Get(ctx, inv.EventID, inv.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RSVPStatus != invitations.StatusPending {
		t.Error("caller mutation leaked into the store")
	}
	got.CheckedIn = true

	again, _ := s.Get(ctx, inv.EventID, inv.UserID)
	if again.CheckedIn {
		t.Error("returned record shares state with the store")
	}
}

func TestMemoryStore_ConcurrentDeleteYieldsOneSnapshot(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	inv := storetest.NewInvitation()
	if err := s.Create(ctx, inv); err != nil {
		t.Fatal(err)
	}

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		snapshots int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Delete(ctx, inv.EventID, inv.UserID); err == nil {
				mu.Lock()
				snapshots++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if snapshots != 1 {
		t.Errorf("expected exactly one successful delete, got %d", snapshots)
	}
}
