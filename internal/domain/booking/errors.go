package booking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound             = errors.New("booking not found")
	ErrForbidden            = errors.New("not permitted")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrConfirmationRequired = errors.New("emergency insertion displaces existing bookings and requires confirmation")
)

// ValidationCode classifies malformed input.
type ValidationCode string

const (
	MissingField     ValidationCode = "missing_field"
	InvalidTimeRange ValidationCode = "invalid_time_range"
	InvalidValue     ValidationCode = "invalid_value"
)

type ValidationError struct {
	Code  ValidationCode
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	switch e.Code {
	case MissingField:
		return e.Field + " is required"
	case InvalidTimeRange:
		return "start time must be before end time"
	}
	return "invalid " + e.Field
}

func missing(field string) error {
	return &ValidationError{Code: MissingField, Field: field}
}

// ViolationCode identifies which scheduling rule refused a request.
type ViolationCode string

const (
	Weekend                   ViolationCode = "weekend"
	NoonCutoff                ViolationCode = "noon_cutoff"
	AdvanceWindowExceeded     ViolationCode = "advance_window_exceeded"
	PastDate                  ViolationCode = "past_date"
	ModificationWindowExpired ViolationCode = "modification_window_expired"
	NoonLocked                ViolationCode = "noon_locked"
)

// PolicyViolation is a refusal by the temporal window policy. Reason is
// suitable for showing to the requester.
type PolicyViolation struct {
	Code    ViolationCode
	Reason  string
	Contact string
}

func (e *PolicyViolation) Error() string {
	if e.Contact == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s Please contact %s.", e.Reason, e.Contact)
}

// ConflictKind names the resource that is double-booked.
type ConflictKind string

const (
	RoomConflict             ConflictKind = "room"
	AnesthesiologistConflict ConflictKind = "anesthesiologist"
)

type ConflictError struct {
	Kind ConflictKind
	With *Booking
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case AnesthesiologistConflict:
		return fmt.Sprintf("Anesthesiologist conflict: %s is already assigned to %q at this time",
			e.With.Anesthesiologist, e.With.Procedure)
	default:
		return fmt.Sprintf("Room conflict: %q is already booked at this time", e.With.Procedure)
	}
}

// TransitionError reports a state change the state machine does not allow.
type TransitionError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// PersistenceError wraps a storage failure. Restored holds the bookings whose
// optimistic changes were rolled back locally.
type PersistenceError struct {
	Op        string
	Err       error
	Restored  []uuid.UUID
	Written   []uuid.UUID
	ReloadErr error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PartialBumpError reports an emergency insertion that failed part way
// through a non-transactional store. Displaced bookings were written;
// Pending ones were not.
type PartialBumpError struct {
	EmergencyID uuid.UUID
	Displaced   []uuid.UUID
	Pending     []uuid.UUID
	Err         error
}

func (e *PartialBumpError) Error() string {
	ids := make([]string, len(e.Displaced))
	for i, id := range e.Displaced {
		ids[i] = id.String()
	}
	return fmt.Sprintf("emergency %s partially applied (displaced: [%s], pending: %d): %v",
		e.EmergencyID, strings.Join(ids, ", "), len(e.Pending), e.Err)
}

func (e *PartialBumpError) Unwrap() error { return e.Err }
