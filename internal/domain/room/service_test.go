package room

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/orsched/orsched/internal/domain/booking"
	"github.com/orsched/orsched/internal/platform/notify"
)

func TestService_StartThenEndCase(t *testing.T) {
	b := caseIn(orTwo, monday, "08:00", "09:30", booking.StatusApproved)
	f := newFixture(b)
	ctx := context.Background()

	entry, err := f.svc.Transition(ctx, admin, orTwo, StateOngoing)
	if err != nil {
		t.Fatalf("ongoing: %v", err)
	}
	if got := f.bookings.get(b.ID); got.Status != booking.StatusOngoing || got.ActualStart == nil {
		t.Fatalf("booking not started: %+v", got)
	}
	st := f.rooms.status(orTwo)
	if st == nil || st.State != StateOngoing || st.CurrentBookingID == nil || *st.CurrentBookingID != b.ID {
		t.Fatalf("unexpected stored status %+v", st)
	}
	if entry.Featured == nil || entry.Featured.ID != b.ID {
		t.Errorf("expected the running case featured, got %+v", entry.Featured)
	}

	f.now = at(monday, "09:40")
	if _, err := f.svc.Transition(ctx, admin, orTwo, StateEnded); err != nil {
		t.Fatalf("ended: %v", err)
	}
	if got := f.bookings.get(b.ID); got.Status != booking.StatusCompleted || got.ActualEnd == nil {
		t.Fatalf("booking not completed: %+v", got)
	}

	msgs := f.sent.OfKind(notify.RoomStatusChanged)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 room notifications, got %s", f.sent)
	}
	if msgs[0].Data["state"] != "ongoing" || msgs[0].Data["room"] != "OR 2" || msgs[0].Data["booking_id"] != b.ID.String() {
		t.Errorf("unexpected payload %v", msgs[0].Data)
	}
	if msgs[1].Data["previous_state"] != "ongoing" {
		t.Errorf("unexpected payload %v", msgs[1].Data)
	}
	if n := len(f.audit.WithAction("room_status_change")); n != 2 {
		t.Errorf("expected 2 audit records, got %d", n)
	}
}

func TestService_InTransitAndIdleAreQuiet(t *testing.T) {
	f := newFixture(caseIn(orOne, monday, "09:00", "10:00", booking.StatusApproved))
	ctx := context.Background()
	if _, err := f.svc.Transition(ctx, admin, orOne, StateInTransit); err != nil {
		t.Fatalf("in transit: %v", err)
	}
	if _, err := f.svc.Transition(ctx, admin, orOne, StateIdle); err != nil {
		t.Fatalf("idle: %v", err)
	}
	if n := len(f.sent.OfKind(notify.RoomStatusChanged)); n != 0 {
		t.Errorf("expected no room notifications, got %d", n)
	}
	if n := len(f.audit.WithAction("room_status_change")); n != 2 {
		t.Errorf("every transition is audited, got %d", n)
	}
}

func TestService_DeferCancelsRunningCase(t *testing.T) {
	b := caseIn(orOne, monday, "08:00", "09:00", booking.StatusApproved)
	f := newFixture(b)
	ctx := context.Background()
	if _, err := f.svc.Transition(ctx, admin, orOne, StateOngoing); err != nil {
		t.Fatalf("ongoing: %v", err)
	}
	if _, err := f.svc.Transition(ctx, admin, orOne, StateDeferred); err != nil {
		t.Fatalf("deferred: %v", err)
	}
	if got := f.bookings.get(b.ID); got.Status != booking.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	cancelled := f.sent.OfKind(notify.BookingCancelled)
	if len(cancelled) != 1 || cancelled[0].Data["reason"] != DeferReason {
		t.Errorf("expected one cancellation notice, got %s", f.sent)
	}
}

func TestService_RefusedTransitionChangesNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.svc.Transition(ctx, admin, orOne, StateEnded); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("idle -> ended should be refused, got %v", err)
	}
	if f.rooms.status(orOne) != nil {
		t.Error("status stored after a refused transition")
	}
	if len(f.audit.Entries()) != 0 || len(f.sent.Messages()) != 0 {
		t.Error("refused transition produced side effects")
	}
}

func TestService_StatusWriteFailureRollsBack(t *testing.T) {
	b := caseIn(orOne, monday, "08:00", "09:00", booking.StatusApproved)
	f := newFixture(b)
	f.rooms.upsertErr = errStore

	_, err := f.svc.Transition(context.Background(), admin, orOne, StateOngoing)
	var perr *booking.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if got := f.bookings.get(b.ID); got.Status != booking.StatusApproved {
		t.Errorf("booking change kept after failed status write: %s", got.Status)
	}
	if len(f.sent.Messages()) != 0 {
		t.Error("notification sent for a rolled back transition")
	}
}

func TestService_TransitionRequiresAdmin(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Transition(context.Background(), nurse, orOne, StateInTransit); !errors.Is(err, booking.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.Transition(context.Background(), admin, uuid.New(), StateInTransit); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_Board(t *testing.T) {
	running := caseIn(orOne, monday, "08:00", "09:00", booking.StatusOngoing)
	queued := caseIn(orTwo, monday, "10:00", "11:00", booking.StatusApproved)
	f := newFixture(running, queued)
	f.rooms.statuses[orOne] = &LiveStatus{RoomID: orOne, State: StateEnded, UpdatedAt: at(monday.AddDate(0, 0, -1), "18:00")}
	retired := &Room{ID: uuid.New(), Name: "OR 9", IsActive: false}
	f.rooms.rooms[retired.ID] = retired

	board, err := f.svc.Board(context.Background(), monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("expected 2 active rooms, got %d", len(board))
	}
	one, two := board[0], board[1]
	if one.Room.ID != orOne || !one.Fallback || one.Status.State != StateOngoing || one.Featured.ID != running.ID {
		t.Errorf("unexpected OR 1 entry %+v", one)
	}
	if two.Status.State != StateIdle || two.Featured == nil || two.Featured.ID != queued.ID {
		t.Errorf("unexpected OR 2 entry %+v", two)
	}
}

func TestService_RoomCRUD(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.svc.CreateRoom(ctx, admin, &Room{Name: "  "}); err == nil {
		t.Fatal("expected validation error for blank name")
	}
	if err := f.svc.CreateRoom(ctx, nurse, &Room{Name: "OR 3"}); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	r := &Room{Name: " OR 3 ", Designation: "ORTHO", IsActive: true, BufferMinutes: 15}
	if err := f.svc.CreateRoom(ctx, admin, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.ID == uuid.Nil || r.Name != "OR 3" || r.CreatedAt.IsZero() {
		t.Errorf("unexpected room %+v", r)
	}

	r.IsActive = false
	if err := f.svc.UpdateRoom(ctx, admin, r); err != nil {
		t.Fatalf("update: %v", err)
	}
	active, _ := f.svc.ListRooms(ctx, true)
	for _, a := range active {
		if a.ID == r.ID {
			t.Error("retired room still listed as active")
		}
	}
	if len(f.audit.WithAction("room_create")) != 1 || len(f.audit.WithAction("room_update")) != 1 {
		t.Errorf("unexpected audit trail %+v", f.audit.Entries())
	}
}
