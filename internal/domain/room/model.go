package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("room not found")

// State is the live operational state of a room today.
type State string

const (
	StateIdle      State = "idle"
	StateInTransit State = "in_transit"
	StateOngoing   State = "ongoing"
	StateEnded     State = "ended"
	StateDeferred  State = "deferred"
)

func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateIdle, StateInTransit, StateOngoing, StateEnded, StateDeferred:
		return st, nil
	}
	return "", fmt.Errorf("unknown room state: %s", s)
}

// Room maps to the or_room table.
type Room struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Designation   string    `db:"designation" json:"designation,omitempty"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	BufferMinutes int       `db:"buffer_minutes" json:"buffer_minutes"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// LiveStatus maps to the room_live_status table. There is at most one per
// room; it is overwritten on every change.
type LiveStatus struct {
	RoomID           uuid.UUID  `db:"room_id" json:"room_id"`
	State            State      `db:"status" json:"status"`
	CurrentBookingID *uuid.UUID `db:"current_booking_id" json:"current_booking_id,omitempty"`
	UpdatedBy        string     `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}
