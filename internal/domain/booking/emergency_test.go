package booking

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func emergencyCase() *Booking {
	b := request(roomOne, tuesday, "09:00", "10:30")
	b.PatientName = "Pedro Penduko"
	b.Procedure = "Emergency laparotomy"
	b.Department = "GENSURG"
	return b
}

func TestComputeBumpSet_OrderedByStart(t *testing.T) {
	late := newBooking(roomOne, tuesday, "10:15", "11:00", StatusApproved)
	early := newBooking(roomOne, tuesday, "09:30", "10:00", StatusApproved)
	before := newBooking(roomOne, tuesday, "07:00", "08:30", StatusApproved)
	otherRoom := newBooking(roomTwo, tuesday, "09:30", "10:00", StatusApproved)
	cancelled := newBooking(roomOne, tuesday, "11:00", "12:00", StatusCancelled)
	straddling := newBooking(roomOne, tuesday, "08:00", "09:15", StatusPending)

	set := ComputeBumpSet([]*Booking{late, cancelled, otherRoom, early, before, straddling}, emergencyCase())
	want := []*Booking{straddling, early, late}
	if len(set) != len(want) {
		t.Fatalf("expected %d bookings, got %d", len(want), len(set))
	}
	for i := range want {
		if set[i].ID != want[i].ID {
			t.Errorf("position %d: expected %s-%s, got %s-%s", i, want[i].Start, want[i].End, set[i].Start, set[i].End)
		}
	}
}

func TestComputeBumpSet_TieBreaksOnCreation(t *testing.T) {
	a := newBooking(roomOne, tuesday, "10:00", "11:00", StatusPending)
	b := newBooking(roomOne, tuesday, "10:00", "11:00", StatusPending)
	b.CreatedAt = a.CreatedAt.Add(-1)
	set := ComputeBumpSet([]*Booking{a, b}, emergencyCase())
	if len(set) != 2 || set[0].ID != b.ID {
		t.Errorf("expected the earlier-created booking first")
	}
}

func TestInsertEmergency_Scenario(t *testing.T) {
	first := newBooking(roomOne, tuesday, "09:30", "10:00", StatusApproved)
	second := newBooking(roomOne, tuesday, "10:15", "11:00", StatusApproved)
	untouched := newBooking(roomOne, tuesday, "07:00", "08:00", StatusApproved)
	view := []*Booking{second, untouched, first}

	cmd := InsertEmergency{Booking: emergencyCase(), Reason: "ruptured appendix", Actor: adminActor, At: at(monday, "22:00")}
	cmd.Booking.ID = uuid.New()

	preview, err := cmd.Preview(view)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(preview.Bumped) != 2 || preview.Bumped[0].ID != first.ID || preview.Bumped[1].ID != second.ID {
		t.Fatalf("unexpected preview %+v", preview.Bumped)
	}
	if preview.EmergencyID != cmd.Booking.ID {
		t.Errorf("preview should carry the emergency id")
	}

	if _, err := cmd.Plan(view); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected confirmation to be required, got %v", err)
	}

	cmd.Confirm = true
	changes, err := cmd.Plan(view)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("expected 2 bumps and 1 create, got %d changes", len(changes))
	}
	for _, c := range changes[:2] {
		if c.After.Status != StatusRescheduled {
			t.Errorf("%s not rescheduled", c.After.ID)
		}
		if !strings.Contains(c.After.Notes, "Bumped by emergency case: Pedro Penduko / Emergency laparotomy (ruptured appendix)") {
			t.Errorf("unexpected note %q", c.After.Notes)
		}
		if c.After.Displacement == nil || c.After.Displacement.EmergencyID != cmd.Booking.ID {
			t.Errorf("displacement not recorded")
		}
	}
	created := changes[2]
	if !created.IsCreate() || created.After.Status != StatusApproved || !created.After.IsEmergency() {
		t.Errorf("expected an approved emergency create, got %+v", created.After)
	}
	for _, c := range changes {
		if c.After.ID == untouched.ID {
			t.Error("booking outside the bump set was changed")
		}
	}
	if first.Status != StatusApproved {
		t.Error("plan mutated the view")
	}
}

func TestInsertEmergency_NoBumpNeedsNoConfirmation(t *testing.T) {
	view := []*Booking{newBooking(roomOne, tuesday, "07:00", "08:00", StatusApproved)}
	cmd := InsertEmergency{Booking: emergencyCase(), Reason: "trauma", Actor: adminActor, At: at(monday, "22:00")}
	changes, err := cmd.Plan(view)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(changes) != 1 || !changes[0].IsCreate() {
		t.Errorf("expected a single create, got %d changes", len(changes))
	}
}

func TestInsertEmergency_Refusals(t *testing.T) {
	cmd := InsertEmergency{Booking: emergencyCase(), Reason: "trauma", Actor: orthoStaff}
	if _, err := cmd.Plan(nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for non-admin, got %v", err)
	}
	cmd.Actor = adminActor
	cmd.Reason = "  "
	var verr *ValidationError
	if _, err := cmd.Plan(nil); !errors.As(err, &verr) || verr.Field != "emergency_reason" {
		t.Errorf("expected missing emergency_reason, got %v", err)
	}
}

func TestInsertEmergency_ReplaySkipsCreate(t *testing.T) {
	cmd := InsertEmergency{Booking: emergencyCase(), Reason: "trauma", Actor: adminActor, At: at(monday, "22:00"), Confirm: true}
	cmd.Booking.ID = uuid.New()

	bumped := newBooking(roomOne, tuesday, "09:30", "10:00", StatusApproved)
	pending := newBooking(roomOne, tuesday, "10:15", "11:00", StatusApproved)
	first, err := cmd.Plan([]*Booking{bumped, pending})
	if err != nil {
		t.Fatalf("first plan: %v", err)
	}

	// A replay sees the emergency and the first displacement already stored.
	view := []*Booking{first[0].After, pending, first[2].After}
	again, err := cmd.Plan(view)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(again) != 1 || again[0].After.ID != pending.ID {
		t.Errorf("expected the replay to bump only the pending booking, got %d changes", len(again))
	}
}

func TestInsertEmergency_RefusesIDOfOtherBooking(t *testing.T) {
	elective := newBooking(roomOne, tuesday, "07:00", "08:00", StatusApproved)
	later := newBooking(roomOne, tuesday, "10:00", "11:00", StatusApproved)
	elsewhere := newBooking(roomTwo, tuesday, "07:00", "08:00", StatusApproved)
	elsewhere.Origin = Emergency{Reason: "trauma"}

	for name, prior := range map[string]*Booking{
		"elective booking":          elective,
		"emergency in another room": elsewhere,
	} {
		t.Run(name, func(t *testing.T) {
			b := emergencyCase()
			b.Start, b.End = MustClock("09:00"), MustClock("09:30")
			b.ID = prior.ID
			cmd := InsertEmergency{Booking: b, Reason: "trauma", Actor: adminActor, At: at(monday, "22:00"), Confirm: true}

			changes, err := cmd.Plan([]*Booking{elective, later, elsewhere})
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != "id" {
				t.Fatalf("expected invalid id, got %v", err)
			}
			if changes != nil {
				t.Errorf("expected no changes, got %d", len(changes))
			}
		})
	}
}
