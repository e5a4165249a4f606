package rsvp_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/invitations"
	"github.com/MahdiBaghbani/guestservice-go/internal/components/rsvp"
	"github.com/MahdiBaghbani/guestservice-go/internal/components/rsvp/events"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store/memory"
)

type emitted struct {
	topic       string
	eventID     string
	userID      string
	wasAccepted bool
	at          time.Time
}

type recordingEmitter struct {
	mu   sync.Mutex
	msgs []emitted
}

func (r *recordingEmitter) add(e emitted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, e)
}

func (r *recordingEmitter) RSVPAccepted(_ context.Context, eventID, userID string, wasAccepted bool, at time.Time) {
	r.add(emitted{events.TopicRSVPAccepted, eventID, userID, wasAccepted, at})
}

func (r *recordingEmitter) RSVPDeclined(_ context.Context, eventID, userID string, wasAccepted bool, at time.Time) {
	r.add(emitted{events.TopicRSVPDeclined, eventID, userID, wasAccepted, at})
}

func (r *recordingEmitter) GuestCheckedIn(_ context.Context, eventID, userID string, at time.Time) {
	r.add(emitted{events.TopicGuestCheckedIn, eventID, userID, false, at})
}

func (r *recordingEmitter) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.msgs...)
}

// fixedClock returns increasing timestamps one second apart.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	svc   *rsvp.Service
	repo  *memory.Store
	emit  *recordingEmitter
	clock *fixedClock
}

func newFixture() *fixture {
	f := &fixture{
		repo:  memory.New(),
		emit:  &recordingEmitter{},
		clock: &fixedClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.svc = rsvp.NewService(f.repo, f.emit, nil, rsvp.WithClock(f.clock.now))
	return f
}

func (f *fixture) invite(t *testing.T, eventID, userID, orgID string) {
	t.Helper()
	if err := f.svc.OnGuestInvited(context.Background(), eventID, userID, orgID); err != nil {
		t.Fatalf("OnGuestInvited: %v", err)
	}
}

func ids() (eventID, userID, orgID string) {
	return uuid.NewString(), uuid.NewString(), uuid.NewString()
}

func TestAccept_ThenGetReturnsAccepted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, u, o := ids()
	f.invite(t, e, u, o)

	if _, err := f.svc.Accept(ctx, e, u); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	got, err := f.svc.GetByEventAndUser(ctx, e, u)
	if err != nil {
		t.Fatalf("GetByEventAndUser: %v", err)
	}
	if got.RSVPStatus != invitations.StatusAccepted || got.RespondedAt == nil {
		t.Errorf("expected ACCEPTED with respondedAt, got %+v", got)
	}
}

func TestAccept_NotFound(t *testing.T) {
	f := newFixture()
	e, u, _ := ids()

	for name, op := range map[string]func(context.Context, string, string) (*invitations.Invitation, error){
		"accept":  f.svc.Accept,
		"decline": f.svc.Decline,
		"maybe":   f.svc.RespondMaybe,
		"checkin": f.svc.CheckIn,
	} {
		if _, err := op(context.Background(), e, u); !errors.Is(err, invitations.ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
	if len(f.emit.all()) != 0 {
		t.Error("nothing should be emitted for missing invitations")
	}
}

func TestCheckIn_RequiresAccept(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, u, o := ids()
	f.invite(t, e, u, o)

	if _, err := f.svc.CheckIn(ctx, e, u); !errors.Is(err, invitations.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before accept, got %v", err)
	}
	if _, err := f.svc.Decline(ctx, e, u); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CheckIn(ctx, e, u); !errors.Is(err, invitations.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after decline, got %v", err)
	}

	if _, err := f.svc.Accept(ctx, e, u); err != nil {
		t.Fatal(err)
	}
	inv, err := f.svc.CheckIn(ctx, e, u)
	if err != nil {
		t.Fatalf("CheckIn after accept: %v", err)
	}
	if !inv.CheckedIn || inv.CheckedInAt == nil {
		t.Errorf("expected checkedIn, got %+v", inv)
	}

	msgs := f.emit.all()
	last := msgs[len(msgs)-1]
	if last.topic != events.TopicGuestCheckedIn || last.eventID != e || last.userID != u {
		t.Errorf("expected guest-checked-in, got %+v", last)
	}
}

func TestOnGuestInvited_Idempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, u, o := ids()

	f.invite(t, e, u, o)
	if _, err := f.svc.Accept(ctx, e, u); err != nil {
		t.Fatal(err)
	}
	f.invite(t, e, u, o)

	list, err := f.svc.ListByUser(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one invitation, got %d", len(list))
	}
	if list[0].RSVPStatus != invitations.StatusAccepted {
		t.Error("duplicate invite reset the existing invitation")
	}
}

func TestOnGuestInvited_ConcurrentDuplicates(t *testing.T) {
	f := newFixture()
	e, u, o := ids()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.OnGuestInvited(context.Background(), e, u, o); err != nil {
				t.Errorf("OnGuestInvited: %v", err)
			}
		}()
	}
	wg.Wait()

	list, _ := f.svc.ListByEvent(context.Background(), e)
	if len(list) != 1 {
		t.Errorf("expected one invitation, got %d", len(list))
	}
}

func TestOnGuestRemoved(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted emits compensating decline", func(t *testing.T) {
		f := newFixture()
		e, u, o := ids()
		f.invite(t, e, u, o)
		if _, err := f.svc.Accept(ctx, e, u); err != nil {
			t.Fatal(err)
		}

		if err := f.svc.OnGuestRemoved(ctx, e, u); err != nil {
			t.Fatalf("OnGuestRemoved: %v", err)
		}

		var declines []emitted
		for _, m := range f.emit.all() {
			if m.topic == events.TopicRSVPDeclined {
				declines = append(declines, m)
			}
		}
		if len(declines) != 1 || !declines[0].wasAccepted {
			t.Errorf("expected one rsvp-declined{wasAccepted:true}, got %+v", declines)
		}
		if _, err := f.svc.GetByEventAndUser(ctx, e, u); !errors.Is(err, invitations.ErrNotFound) {
			t.Errorf("expected invitation deleted, got %v", err)
		}
	})

	t.Run("pending emits nothing", func(t *testing.T) {
		f := newFixture()
		e, u, o := ids()
		f.invite(t, e, u, o)

		if err := f.svc.OnGuestRemoved(ctx, e, u); err != nil {
			t.Fatalf("OnGuestRemoved: %v", err)
		}
		if n := len(f.emit.all()); n != 0 {
			t.Errorf("expected no events, got %d", n)
		}
	})

	t.Run("missing is a no-op", func(t *testing.T) {
		f := newFixture()
		e, u, _ := ids()
		if err := f.svc.OnGuestRemoved(ctx, e, u); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("redelivery emits once", func(t *testing.T) {
		f := newFixture()
		e, u, o := ids()
		f.invite(t, e, u, o)
		if _, err := f.svc.Accept(ctx, e, u); err != nil {
			t.Fatal(err)
		}
		for range 3 {
			if err := f.svc.OnGuestRemoved(ctx, e, u); err != nil {
				t.Fatal(err)
			}
		}
		n := 0
		for _, m := range f.emit.all() {
			if m.topic == events.TopicRSVPDeclined {
				n++
			}
		}
		if n != 1 {
			t.Errorf("expected one rsvp-declined across redeliveries, got %d", n)
		}
	})
}

func TestOnEventDeleted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	target := uuid.NewString()
	other := uuid.NewString()
	org := uuid.NewString()
	for range 3 {
		f.invite(t, target, uuid.NewString(), org)
	}
	keep := uuid.NewString()
	f.invite(t, other, keep, org)

	if err := f.svc.OnEventDeleted(ctx, target); err != nil {
		t.Fatalf("OnEventDeleted: %v", err)
	}

	if list, _ := f.svc.ListByEvent(ctx, target); len(list) != 0 {
		t.Errorf("expected no invitations for deleted event, got %d", len(list))
	}
	if list, _ := f.svc.ListByEvent(ctx, other); len(list) != 1 {
		t.Errorf("expected other event untouched, got %d", len(list))
	}
	if len(f.emit.all()) != 0 {
		t.Error("event deletion must not emit")
	}
}

func TestScenario_InviteAcceptList(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, u, o := ids()
	f.invite(t, e, u, o)

	list, err := f.svc.ListByUser(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].RSVPStatus != invitations.StatusPending {
		t.Fatalf("expected one PENDING invitation, got %+v", list)
	}

	inv, err := f.svc.Accept(ctx, e, u)
	if err != nil {
		t.Fatal(err)
	}
	if inv.RSVPStatus != invitations.StatusAccepted || inv.RespondedAt == nil {
		t.Errorf("unexpected invitation %+v", inv)
	}

	msgs := f.emit.all()
	if len(msgs) != 1 || msgs[0].topic != events.TopicRSVPAccepted || msgs[0].wasAccepted {
		t.Fatalf("expected one rsvp-accepted{wasAccepted:false}, got %+v", msgs)
	}
	if !msgs[0].at.Equal(*inv.RespondedAt) {
		t.Errorf("event timestamp %v differs from respondedAt %v", msgs[0].at, inv.RespondedAt)
	}

	accepted, err := f.svc.ListAcceptedByUser(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if len(accepted) != 1 {
		t.Errorf("expected one accepted event, got %d", len(accepted))
	}
}

func TestScenario_AcceptThenDecline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, u, o := ids()
	f.invite(t, e, u, o)

	if _, err := f.svc.Accept(ctx, e, u); err != nil {
		t.Fatal(err)
	}
	inv, err := f.svc.Decline(ctx, e, u)
	if err != nil {
		t.Fatal(err)
	}
	if inv.RSVPStatus != invitations.StatusDeclined {
		t.Errorf("expected DECLINED, got %s", inv.RSVPStatus)
	}

	msgs := f.emit.all()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(msgs))
	}
	if msgs[1].topic != events.TopicRSVPDeclined || !msgs[1].wasAccepted {
		t.Errorf("expected rsvp-declined{wasAccepted:true}, got %+v", msgs[1])
	}

	// Declining again reports the guest was not counted.
	if _, err := f.svc.Decline(ctx, e, u); err != nil {
		t.Fatal(err)
	}
	if last := f.emit.all()[2]; last.wasAccepted {
		t.Error("second decline must report wasAccepted=false")
	}
}

func TestRespondMaybe_EmitsNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, u, o := ids()
	f.invite(t, e, u, o)

	inv, err := f.svc.RespondMaybe(ctx, e, u)
	if err != nil {
		t.Fatal(err)
	}
	if inv.RSVPStatus != invitations.StatusMaybe || inv.RespondedAt == nil {
		t.Errorf("unexpected invitation %+v", inv)
	}

	if _, err := f.svc.Accept(ctx, e, u); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RespondMaybe(ctx, e, u); err != nil {
		t.Fatal(err)
	}

	msgs := f.emit.all()
	if len(msgs) != 1 || msgs[0].topic != events.TopicRSVPAccepted {
		t.Errorf("expected only the rsvp-accepted event, got %+v", msgs)
	}
}

func TestMarkViewed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, u, o := ids()

	if err := f.svc.MarkViewed(ctx, e, u); err != nil {
		t.Errorf("missing invitation should be a no-op, got %v", err)
	}

	f.invite(t, e, u, o)
	if err := f.svc.MarkViewed(ctx, e, u); err != nil {
		t.Fatal(err)
	}
	inv, _ := f.svc.GetByEventAndUser(ctx, e, u)
	if inv.LastViewedAt == nil {
		t.Error("expected lastViewedAt to be set")
	}
	if inv.RSVPStatus != invitations.StatusPending {
		t.Error("viewing must not change status")
	}
}

func TestQueries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, _, o := ids()

	users := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, u := range users {
		f.invite(t, e, u, o)
	}
	if _, err := f.svc.Accept(ctx, e, users[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CheckIn(ctx, e, users[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Decline(ctx, e, users[1]); err != nil {
		t.Fatal(err)
	}

	byEvent, _ := f.svc.ListByEvent(ctx, e)
	if len(byEvent) != 3 {
		t.Fatalf("expected 3 invitations, got %d", len(byEvent))
	}
	for i, inv := range byEvent {
		if inv.UserID != users[i] {
			t.Errorf("ListByEvent not ordered by receipt: position %d has %s", i, inv.UserID)
		}
	}

	if byOrg, _ := f.svc.ListByOrganization(ctx, o); len(byOrg) != 3 {
		t.Errorf("expected 3 by organization, got %d", len(byOrg))
	}
	if checked, _ := f.svc.ListCheckedIn(ctx, e); len(checked) != 1 || checked[0].UserID != users[0] {
		t.Errorf("unexpected checked-in list %+v", checked)
	}
	if declined, _ := f.svc.ListByEventAndStatus(ctx, e, invitations.StatusDeclined); len(declined) != 1 || declined[0].UserID != users[1] {
		t.Errorf("unexpected declined list %+v", declined)
	}
	if pending, _ := f.svc.ListByEventAndStatus(ctx, e, invitations.StatusPending); len(pending) != 1 {
		t.Errorf("expected 1 pending, got %d", len(pending))
	}
	if _, err := f.svc.GetByEventAndUser(ctx, e, uuid.NewString()); !errors.Is(err, invitations.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
