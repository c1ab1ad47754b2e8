package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orsched/orsched/internal/platform/auth"
)

// Trigger identifies what drives a status change.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerRoomSync Trigger = "room_sync"
	TriggerBump     Trigger = "bump"
)

// Transition is a requested status change.
type Transition struct {
	To      Status
	Trigger Trigger
	Actor   auth.Actor
	// Reason is the denial reason, the cancellation reason or the
	// displacement note depending on To.
	Reason string
	// DisplacedBy names the emergency booking for bump transitions.
	DisplacedBy uuid.UUID
	At          time.Time
}

// transitionGuard returns "" when the transition may proceed, else the refusal reason.
type transitionGuard func(b *Booking, t Transition) string

var transitions = map[Status]map[Status]transitionGuard{
	StatusPending: {
		StatusApproved:    adminDecision,
		StatusDenied:      both(adminDecision, reasonRequired),
		StatusRescheduled: bumpOnly,
	},
	StatusApproved: {
		StatusOngoing:     roomSyncOnly,
		StatusCancelled:   cancellation,
		StatusRescheduled: bumpOnly,
	},
	StatusOngoing: {
		StatusCompleted: roomSyncOnly,
		StatusCancelled: cancellation,
	},
}

func adminDecision(_ *Booking, t Transition) string {
	if t.Trigger != TriggerManual {
		return "requires an administrator decision"
	}
	if !t.Actor.IsAdmin() {
		return "only administrators may approve or deny bookings"
	}
	return ""
}

func reasonRequired(_ *Booking, t Transition) string {
	if strings.TrimSpace(t.Reason) == "" {
		return "a reason is required"
	}
	return ""
}

func bumpOnly(_ *Booking, t Transition) string {
	if t.Trigger != TriggerBump {
		return "only an emergency insertion may reschedule a booking"
	}
	if strings.TrimSpace(t.Reason) == "" {
		return "a displacement note is required"
	}
	return ""
}

func roomSyncOnly(_ *Booking, t Transition) string {
	if t.Trigger != TriggerRoomSync {
		return "driven by the room status only"
	}
	return ""
}

func cancellation(b *Booking, t Transition) string {
	switch t.Trigger {
	case TriggerRoomSync:
		return ""
	case TriggerManual:
		if t.Actor.IsAdmin() || ownsBooking(t.Actor, b) {
			return ""
		}
		return "only administrators or the owning department may cancel"
	}
	return "cancellation must be explicit"
}

func both(gs ...transitionGuard) transitionGuard {
	return func(b *Booking, t Transition) string {
		for _, g := range gs {
			if reason := g(b, t); reason != "" {
				return reason
			}
		}
		return ""
	}
}

func ownsBooking(a auth.Actor, b *Booking) bool {
	if a.ID != "" && a.ID == b.CreatedBy {
		return true
	}
	return a.Department != "" && strings.EqualFold(a.Department, b.Department)
}

// CanTransition reports whether the table has an edge from one status to
// another, ignoring guards.
func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// Apply moves the booking to t.To. Guards run before any field changes, so a
// refused transition leaves b untouched.
func (b *Booking) Apply(t Transition) error {
	g, ok := transitions[b.Status][t.To]
	if !ok {
		return &TransitionError{Entity: "booking", From: string(b.Status), To: string(t.To)}
	}
	if reason := g(b, t); reason != "" {
		return &TransitionError{Entity: "booking", From: string(b.Status), To: string(t.To), Reason: reason}
	}

	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	switch t.To {
	case StatusApproved:
		b.Ruling = &Approval{By: t.Actor.ID, At: at}
	case StatusDenied:
		b.Ruling = &Denial{By: t.Actor.ID, At: at, Reason: strings.TrimSpace(t.Reason)}
	case StatusOngoing:
		b.ActualStart = &at
	case StatusCompleted:
		b.ActualEnd = &at
	case StatusCancelled:
		line := "Cancelled"
		if r := strings.TrimSpace(t.Reason); r != "" {
			line += ": " + r
		}
		b.appendNote(at, line)
	case StatusRescheduled:
		b.appendNote(at, strings.TrimSpace(t.Reason))
		if t.DisplacedBy != uuid.Nil {
			b.Displacement = &Displacement{EmergencyID: t.DisplacedBy, At: at}
		}
	}
	b.Status = t.To
	b.UpdatedAt = at
	return nil
}

// Edit carries the content fields a user may change on a live booking. Nil
// fields are left alone.
type Edit struct {
	Date             *time.Time
	Start            *Clock
	End              *Clock
	Procedure        *string
	Surgeon          *string
	Anesthesiologist *string
	Nurses           *[]string
	Equipment        *[]string
	EstimatedMinutes *int
	Notes            *string
}

// ApplyEdit changes content fields on a non-terminal booking. It reports
// whether the date or time actually changed.
func (b *Booking) ApplyEdit(e Edit, at time.Time) (bool, error) {
	if b.Status.IsTerminal() {
		return false, &TransitionError{Entity: "booking", From: string(b.Status), To: string(b.Status),
			Reason: "finished bookings cannot be edited"}
	}

	c := b.Clone()
	if e.Date != nil {
		c.Date = Day(*e.Date)
	}
	if e.Start != nil {
		c.Start = *e.Start
	}
	if e.End != nil {
		c.End = *e.End
	}
	if e.Procedure != nil {
		if strings.TrimSpace(*e.Procedure) == "" {
			return false, missing("procedure")
		}
		c.Procedure = strings.TrimSpace(*e.Procedure)
	}
	if e.Surgeon != nil {
		if strings.TrimSpace(*e.Surgeon) == "" {
			return false, missing("surgeon")
		}
		c.Surgeon = strings.TrimSpace(*e.Surgeon)
	}
	if e.Anesthesiologist != nil {
		c.Anesthesiologist = strings.TrimSpace(*e.Anesthesiologist)
	}
	if e.Nurses != nil {
		c.Nurses = append([]string(nil), (*e.Nurses)...)
	}
	if e.Equipment != nil {
		c.Equipment = append([]string(nil), (*e.Equipment)...)
	}
	if e.EstimatedMinutes != nil {
		c.EstimatedMinutes = *e.EstimatedMinutes
	}
	if e.Notes != nil {
		c.Notes = *e.Notes
	}
	if c.Start >= c.End {
		return false, &ValidationError{Code: InvalidTimeRange, Field: "end_time"}
	}
	if RequiresAnesthesiologist(c.PatientCategory) && c.Anesthesiologist == "" {
		return false, missing("anesthesiologist")
	}

	moved := !SameDay(c.Date, b.Date) || c.Start != b.Start || c.End != b.End
	if at.IsZero() {
		at = time.Now().UTC()
	}
	c.UpdatedAt = at
	*b = *c
	return moved, nil
}
