package room

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/orsched/orsched/internal/domain/booking"
	"github.com/orsched/orsched/internal/platform/auth"
)

// DeferReason is recorded on a case cancelled because its room was deferred.
const DeferReason = "Room deferred"

var allowed = map[State]map[State]bool{
	StateIdle:      {StateInTransit: true, StateOngoing: true, StateDeferred: true},
	StateInTransit: {StateIdle: true, StateOngoing: true, StateDeferred: true},
	StateOngoing:   {StateEnded: true, StateDeferred: true},
	StateEnded:     {StateIdle: true, StateInTransit: true, StateOngoing: true},
	StateDeferred:  {StateIdle: true, StateInTransit: true, StateOngoing: true},
}

func CanTransition(from, to State) bool {
	return allowed[from][to]
}

// Notifies reports whether reaching s is announced to staff.
func (s State) Notifies() bool {
	return s == StateOngoing || s == StateEnded || s == StateDeferred
}

// todays returns the room's bookings on day ordered by start time.
func todays(view []*booking.Booking, roomID uuid.UUID, day time.Time) []*booking.Booking {
	var out []*booking.Booking
	for _, b := range view {
		if b.RoomID == roomID && booking.SameDay(b.Date, day) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Fallback derives a state for a room without a stored status from its
// bookings today.
func Fallback(today []*booking.Booking) State {
	if len(today) == 0 {
		return StateIdle
	}
	allDone := true
	for _, b := range today {
		if b.Status == booking.StatusOngoing {
			return StateOngoing
		}
		if b.Status != booking.StatusCompleted {
			allDone = false
		}
	}
	if allDone {
		return StateEnded
	}
	return StateIdle
}

// NextQueued is the earliest approved booking in today, or nil.
func NextQueued(today []*booking.Booking) *booking.Booking {
	var next *booking.Booking
	for _, b := range today {
		if b.Status != booking.StatusApproved {
			continue
		}
		if next == nil || b.Start < next.Start {
			next = b
		}
	}
	return next
}

// Ongoing is the booking currently under way in today, or nil.
func Ongoing(today []*booking.Booking) *booking.Booking {
	for _, b := range today {
		if b.Status == booking.StatusOngoing {
			return b
		}
	}
	return nil
}

func byID(today []*booking.Booking, id *uuid.UUID) *booking.Booking {
	if id == nil {
		return nil
	}
	for _, b := range today {
		if b.ID == *id {
			return b
		}
	}
	return nil
}

// Featured picks the booking to display for a room in the given status.
func Featured(status LiveStatus, today []*booking.Booking) *booking.Booking {
	switch status.State {
	case StateOngoing:
		if b := Ongoing(today); b != nil {
			return b
		}
		return NextQueued(today)
	case StateInTransit:
		return byID(today, status.CurrentBookingID)
	case StateIdle, StateEnded:
		return NextQueued(today)
	}
	return nil
}

// Effective returns the status to act on: the stored one when it was written
// today, otherwise the fallback derived from today's bookings.
func Effective(stored *LiveStatus, roomID uuid.UUID, today []*booking.Booking, day time.Time, loc *time.Location) (LiveStatus, bool) {
	if loc == nil {
		loc = time.Local
	}
	if stored != nil && booking.SameDay(stored.UpdatedAt.In(loc), day) {
		return *stored, false
	}
	return LiveStatus{RoomID: roomID, State: Fallback(today)}, true
}

// Cascade is the booking side of a room status change. It is a
// booking.Command so the room change and the booking changes it causes are
// planned and written together.
type Cascade struct {
	RoomID   uuid.UUID
	Day      time.Time
	To       State
	Stored   *LiveStatus
	Actor    auth.Actor
	At       time.Time
	Location *time.Location

	// Set by Plan.
	From   State
	Result LiveStatus
}

func (c *Cascade) Plan(view []*booking.Booking) ([]booking.Change, error) {
	today := todays(view, c.RoomID, c.Day)
	current, _ := Effective(c.Stored, c.RoomID, today, c.Day, c.Location)
	c.From = current.State
	if !CanTransition(c.From, c.To) {
		return nil, &booking.TransitionError{Entity: "room", From: string(c.From), To: string(c.To)}
	}

	c.Result = LiveStatus{RoomID: c.RoomID, State: c.To, UpdatedBy: c.Actor.ID, UpdatedAt: c.At}
	var (
		target *booking.Booking
		status booking.Status
		reason string
	)
	switch c.To {
	case StateOngoing:
		target, status = NextQueued(today), booking.StatusOngoing
		if target != nil {
			id := target.ID
			c.Result.CurrentBookingID = &id
		}
	case StateInTransit:
		if next := NextQueued(today); next != nil {
			id := next.ID
			c.Result.CurrentBookingID = &id
		}
	case StateEnded:
		target, status = Ongoing(today), booking.StatusCompleted
	case StateDeferred:
		target, status, reason = Ongoing(today), booking.StatusCancelled, DeferReason
	}
	if target == nil {
		return nil, nil
	}

	after := target.Clone()
	if err := after.Apply(booking.Transition{
		To:      status,
		Trigger: booking.TriggerRoomSync,
		Actor:   c.Actor,
		Reason:  reason,
		At:      c.At,
	}); err != nil {
		return nil, err
	}
	return []booking.Change{{Before: target, After: after}}, nil
}
