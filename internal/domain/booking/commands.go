package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orsched/orsched/internal/platform/auth"
)

func find(view []*Booking, id uuid.UUID) (*Booking, error) {
	for _, b := range view {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, ErrNotFound
}

// ValidateNew checks the fields every new booking must carry.
func ValidateNew(b *Booking) error {
	if b.RoomID == uuid.Nil {
		return missing("room_id")
	}
	if strings.TrimSpace(b.Department) == "" {
		return missing("department")
	}
	if b.Date.IsZero() {
		return missing("date")
	}
	if strings.TrimSpace(b.PatientName) == "" {
		return missing("patient_name")
	}
	if strings.TrimSpace(b.Procedure) == "" {
		return missing("procedure")
	}
	if strings.TrimSpace(b.Surgeon) == "" {
		return missing("surgeon")
	}
	if b.Start >= b.End {
		return &ValidationError{Code: InvalidTimeRange, Field: "end_time"}
	}
	if RequiresAnesthesiologist(b.PatientCategory) && strings.TrimSpace(b.Anesthesiologist) == "" {
		return missing("anesthesiologist")
	}
	if b.PatientAge < 0 {
		return &ValidationError{Code: InvalidValue, Field: "patient_age"}
	}
	return nil
}

func prepareNew(b *Booking, actor auth.Actor, at time.Time) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Department == "" {
		b.Department = actor.Department
	}
	b.Date = Day(b.Date)
	b.Department = strings.ToUpper(strings.TrimSpace(b.Department))
	b.Anesthesiologist = strings.TrimSpace(b.Anesthesiologist)
	b.CreatedBy = actor.ID
	b.CreatedAt = at
	b.UpdatedAt = at
	b.ActualStart, b.ActualEnd, b.Displacement = nil, nil, nil
}

// Submit files a new elective request. The booking always receives a fresh
// id; any id supplied by the caller is ignored.
type Submit struct {
	Booking *Booking
	Actor   auth.Actor
	Now     time.Time
	Policy  Policy
}

func (s Submit) Plan(view []*Booking) ([]Change, error) {
	b := s.Booking.Clone()
	b.ID = uuid.New()
	prepareNew(b, s.Actor, s.Now)
	if err := ValidateNew(b); err != nil {
		return nil, err
	}
	if err := s.Policy.CheckSubmission(s.Now, b.Date, s.Actor, false); err != nil {
		return nil, err
	}
	if err := CheckConflicts(view, b); err != nil {
		return nil, err
	}
	b.Status = StatusPending
	b.Origin = Elective{}
	b.Ruling = nil
	return []Change{{After: b}}, nil
}

// Decide approves or denies a pending request.
type Decide struct {
	ID      uuid.UUID
	Approve bool
	Reason  string
	Actor   auth.Actor
	At      time.Time
}

func (d Decide) Plan(view []*Booking) ([]Change, error) {
	before, err := find(view, d.ID)
	if err != nil {
		return nil, err
	}
	after := before.Clone()
	t := Transition{To: StatusDenied, Trigger: TriggerManual, Actor: d.Actor, Reason: d.Reason, At: d.At}
	if d.Approve {
		t.To = StatusApproved
	}
	if err := after.Apply(t); err != nil {
		return nil, err
	}
	if d.Approve {
		if err := CheckConflicts(view, after); err != nil {
			return nil, err
		}
	}
	return []Change{{Before: before, After: after}}, nil
}

// Modify edits the content of a live booking.
type Modify struct {
	ID     uuid.UUID
	Edit   Edit
	Actor  auth.Actor
	Now    time.Time
	Policy Policy
}

func (m Modify) Plan(view []*Booking) ([]Change, error) {
	before, err := find(view, m.ID)
	if err != nil {
		return nil, err
	}
	if err := m.Policy.CheckModification(m.Now, before, m.Actor); err != nil {
		return nil, err
	}
	after := before.Clone()
	moved, err := after.ApplyEdit(m.Edit, m.Now)
	if err != nil {
		return nil, err
	}
	if moved {
		if !SameDay(after.Date, before.Date) {
			if err := m.Policy.CheckSubmission(m.Now, after.Date, m.Actor, after.IsEmergency()); err != nil {
				return nil, err
			}
		}
		if err := m.Policy.CheckModification(m.Now, after, m.Actor); err != nil {
			return nil, err
		}
	}
	if moved || m.Edit.Anesthesiologist != nil {
		if err := CheckConflicts(view, after); err != nil {
			return nil, err
		}
	}
	return []Change{{Before: before, After: after}}, nil
}

// AssignAnesthesiologist sets the anesthesiologist on a booking. It is not
// subject to the modification window.
type AssignAnesthesiologist struct {
	ID    uuid.UUID
	Name  string
	Actor auth.Actor
	At    time.Time
}

func (a AssignAnesthesiologist) Plan(view []*Booking) ([]Change, error) {
	if !a.Actor.IsAdmin() && !a.Actor.HasRole(auth.RoleAnesthesiaAdmin) {
		return nil, ErrForbidden
	}
	before, err := find(view, a.ID)
	if err != nil {
		return nil, err
	}
	after := before.Clone()
	name := a.Name
	if _, err := after.ApplyEdit(Edit{Anesthesiologist: &name}, a.At); err != nil {
		return nil, err
	}
	if c := FindAnesthesiologistConflict(view, after); c != nil {
		return nil, &ConflictError{Kind: AnesthesiologistConflict, With: c}
	}
	return []Change{{Before: before, After: after}}, nil
}

// Cancel withdraws an approved or ongoing booking on request.
type Cancel struct {
	ID     uuid.UUID
	Reason string
	Actor  auth.Actor
	Now    time.Time
	Policy Policy
}

func (c Cancel) Plan(view []*Booking) ([]Change, error) {
	before, err := find(view, c.ID)
	if err != nil {
		return nil, err
	}
	if !c.Actor.IsAdmin() && CanTransition(before.Status, StatusCancelled) {
		if err := c.Policy.CheckModification(c.Now, before, c.Actor); err != nil {
			return nil, err
		}
	}
	after := before.Clone()
	if err := after.Apply(Transition{
		To: StatusCancelled, Trigger: TriggerManual, Actor: c.Actor, Reason: c.Reason, At: c.Now,
	}); err != nil {
		return nil, err
	}
	return []Change{{Before: before, After: after}}, nil
}
