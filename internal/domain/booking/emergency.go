package booking

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orsched/orsched/internal/platform/auth"
)

// ComputeBumpSet returns the bookings an emergency case would displace: every
// live booking in the same room on the same day that starts at or after the
// emergency start, or overlaps it. The result is ordered by start time, then
// creation time, then id.
func ComputeBumpSet(existing []*Booking, emergency *Booking) []*Booking {
	var out []*Booking
	for _, b := range existing {
		if b.ID == emergency.ID || b.RoomID != emergency.RoomID || !SameDay(b.Date, emergency.Date) {
			continue
		}
		switch b.Status {
		case StatusCancelled, StatusDenied, StatusCompleted, StatusRescheduled:
			continue
		}
		if b.Start >= emergency.Start || Overlaps(b.Start, b.End, emergency.Start, emergency.End) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return out
}

// BumpNote is the line appended to every displaced booking.
func BumpNote(emergency *Booking) string {
	reason, _ := emergency.EmergencyReason()
	return fmt.Sprintf("Bumped by emergency case: %s / %s (%s)",
		emergency.PatientName, emergency.Procedure, reason)
}

// BumpPreview describes what confirming an emergency insertion would do.
type BumpPreview struct {
	EmergencyID uuid.UUID  `json:"emergency_id"`
	Bumped      []*Booking `json:"bumped"`
}

// InsertEmergency places an administrator's emergency case, displacing the
// bookings in its bump set. With Confirm unset it only succeeds when nothing
// would be displaced.
type InsertEmergency struct {
	Booking *Booking
	Reason  string
	Actor   auth.Actor
	At      time.Time
	Confirm bool
}

func (e InsertEmergency) prepare() (*Booking, error) {
	if !e.Actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(e.Reason) == "" {
		return nil, missing("emergency_reason")
	}
	b := e.Booking.Clone()
	prepareNew(b, e.Actor, e.At)
	if err := ValidateNew(b); err != nil {
		return nil, err
	}
	b.Status = StatusApproved
	b.Origin = Emergency{Reason: strings.TrimSpace(e.Reason)}
	b.Ruling = &Approval{By: e.Actor.ID, At: e.At}
	return b, nil
}

// displace applies the bump transition to clones of every booking in set.
// Nothing is returned unless every one of them may be rescheduled.
func (e InsertEmergency) displace(set []*Booking, emergency *Booking) ([]Change, error) {
	note := BumpNote(emergency)
	changes := make([]Change, 0, len(set)+1)
	for _, b := range set {
		after := b.Clone()
		if err := after.Apply(Transition{
			To:          StatusRescheduled,
			Trigger:     TriggerBump,
			Actor:       e.Actor,
			Reason:      note,
			DisplacedBy: emergency.ID,
			At:          e.At,
		}); err != nil {
			return nil, err
		}
		changes = append(changes, Change{Before: b, After: after})
	}
	return changes, nil
}

// Preview computes the bump set without changing anything. The returned
// emergency id should be passed back on confirmation.
func (e InsertEmergency) Preview(view []*Booking) (*BumpPreview, error) {
	b, err := e.prepare()
	if err != nil {
		return nil, err
	}
	set := ComputeBumpSet(view, b)
	if _, err := e.displace(set, b); err != nil {
		return nil, err
	}
	if set == nil {
		set = []*Booking{}
	}
	return &BumpPreview{EmergencyID: b.ID, Bumped: set}, nil
}

// Plan treats an existing emergency booking with the same id, room and day as
// a replay of an interrupted insertion and only finishes its displacements.
// An id held by any other booking is refused.
func (e InsertEmergency) Plan(view []*Booking) ([]Change, error) {
	b, err := e.prepare()
	if err != nil {
		return nil, err
	}
	replay := false
	if prior, err := find(view, b.ID); err == nil {
		if !prior.IsEmergency() || prior.RoomID != b.RoomID || !SameDay(prior.Date, b.Date) {
			return nil, &ValidationError{Code: InvalidValue, Field: "id", Msg: "id belongs to another booking"}
		}
		replay = true
	}

	set := ComputeBumpSet(view, b)
	if len(set) > 0 && !e.Confirm {
		return nil, ErrConfirmationRequired
	}
	changes, err := e.displace(set, b)
	if err != nil {
		return nil, err
	}

	if RequiresAnesthesiologist(b.PatientCategory) {
		remaining := make([]*Booking, 0, len(view))
		for _, v := range view {
			if !inSet(set, v.ID) {
				remaining = append(remaining, v)
			}
		}
		if c := FindAnesthesiologistConflict(remaining, b); c != nil {
			return nil, &ConflictError{Kind: AnesthesiologistConflict, With: c}
		}
	}

	if !replay {
		changes = append(changes, Change{After: b})
	}
	return changes, nil
}

func inSet(set []*Booking, id uuid.UUID) bool {
	for _, b := range set {
		if b.ID == id {
			return true
		}
	}
	return false
}
