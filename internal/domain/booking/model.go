package booking

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusDenied      Status = "denied"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
	StatusOngoing     Status = "ongoing"
	StatusCompleted   Status = "completed"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusDenied, StatusCancelled,
		StatusRescheduled, StatusOngoing, StatusCompleted:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status: %s", s)
	}
}

// IsActive reports whether a booking in this status still occupies its slot.
// A rescheduled booking gave its slot to an emergency case.
func (s Status) IsActive() bool {
	return s != StatusCancelled && s != StatusDenied && s != StatusRescheduled
}

// IsTerminal reports whether no further workflow transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDenied, StatusCancelled, StatusCompleted, StatusRescheduled:
		return true
	}
	return false
}

// Origin distinguishes elective requests from emergency insertions.
type Origin interface {
	isOrigin()
}

// Elective is a booking that went through the approval queue.
type Elective struct{}

// Emergency is an administrator-inserted case that bypassed the queue.
type Emergency struct {
	Reason string
}

func (Elective) isOrigin()  {}
func (Emergency) isOrigin() {}

// Ruling is an administrator decision on an elective request. A pending
// booking has no ruling.
type Ruling interface {
	isRuling()
}

// Approval records who approved the booking and when.
type Approval struct {
	By string
	At time.Time
}

// Denial records who denied the booking, when and why.
type Denial struct {
	By     string
	At     time.Time
	Reason string
}

func (*Approval) isRuling() {}
func (*Denial) isRuling()   {}

// Displacement is set when an emergency case bumped this booking.
type Displacement struct {
	EmergencyID uuid.UUID
	At          time.Time
}

// Booking is a request for, or confirmed occupation of, one room for one
// procedure on one day.
type Booking struct {
	ID               uuid.UUID
	RoomID           uuid.UUID
	Department       string
	Date             time.Time
	Start            Clock
	End              Clock
	PatientName      string
	HospitalNumber   string
	PatientAge       int
	PatientCategory  string
	Procedure        string
	Surgeon          string
	Anesthesiologist string
	Nurses           []string
	Equipment        []string
	EstimatedMinutes int
	ActualStart      *time.Time
	ActualEnd        *time.Time
	Status           Status
	Origin           Origin
	Ruling           Ruling
	Displacement     *Displacement
	Notes            string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsEmergency reports whether the booking was inserted as an emergency.
func (b *Booking) IsEmergency() bool {
	_, ok := b.Origin.(Emergency)
	return ok
}

// EmergencyReason returns the reason recorded on an emergency insertion.
func (b *Booking) EmergencyReason() (string, bool) {
	e, ok := b.Origin.(Emergency)
	return e.Reason, ok
}

// Approval returns the approval ruling, if any.
func (b *Booking) Approval() (*Approval, bool) {
	a, ok := b.Ruling.(*Approval)
	return a, ok
}

// Denial returns the denial ruling, if any.
func (b *Booking) Denial() (*Denial, bool) {
	d, ok := b.Ruling.(*Denial)
	return d, ok
}

// StartAt returns the scheduled start as an instant in loc.
func (b *Booking) StartAt(loc *time.Location) time.Time {
	return b.Start.On(b.Date, loc)
}

// DurationMinutes is the scheduled length of the case.
func (b *Booking) DurationMinutes() int {
	return int(b.End - b.Start)
}

// Clone returns a deep copy.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.Nurses = append([]string(nil), b.Nurses...)
	c.Equipment = append([]string(nil), b.Equipment...)
	if b.ActualStart != nil {
		t := *b.ActualStart
		c.ActualStart = &t
	}
	if b.ActualEnd != nil {
		t := *b.ActualEnd
		c.ActualEnd = &t
	}
	switch r := b.Ruling.(type) {
	case *Approval:
		a := *r
		c.Ruling = &a
	case *Denial:
		d := *r
		c.Ruling = &d
	}
	if b.Displacement != nil {
		d := *b.Displacement
		c.Displacement = &d
	}
	return &c
}

func (b *Booking) appendNote(at time.Time, line string) {
	entry := fmt.Sprintf("[%s] %s", at.Format("2006-01-02 15:04"), line)
	if strings.TrimSpace(b.Notes) == "" {
		b.Notes = entry
		return
	}
	b.Notes += "\n" + entry
}

// Label is a short human description used in notifications and messages.
func (b *Booking) Label() string {
	return fmt.Sprintf("%s %s-%s %q", b.Date.Format(DateLayout), b.Start, b.End, b.Procedure)
}

// DateLayout is the wire format of calendar days.
const DateLayout = "2006-01-02"

// bookingJSON is the flattened wire shape of a Booking.
type bookingJSON struct {
	ID               uuid.UUID  `json:"id"`
	RoomID           uuid.UUID  `json:"room_id"`
	Department       string     `json:"department"`
	Date             string     `json:"date"`
	Start            Clock      `json:"start_time"`
	End              Clock      `json:"end_time"`
	PatientName      string     `json:"patient_name"`
	HospitalNumber   string     `json:"hospital_number,omitempty"`
	PatientAge       int        `json:"patient_age,omitempty"`
	PatientCategory  string     `json:"patient_category,omitempty"`
	Procedure        string     `json:"procedure"`
	Surgeon          string     `json:"surgeon"`
	Anesthesiologist string     `json:"anesthesiologist,omitempty"`
	Nurses           []string   `json:"nurses,omitempty"`
	Equipment        []string   `json:"equipment,omitempty"`
	EstimatedMinutes int        `json:"estimated_minutes,omitempty"`
	ActualStart      *time.Time `json:"actual_start,omitempty"`
	ActualEnd        *time.Time `json:"actual_end,omitempty"`
	Status           Status     `json:"status"`
	IsEmergency      bool       `json:"is_emergency"`
	EmergencyReason  string     `json:"emergency_reason,omitempty"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	DeniedBy         string     `json:"denied_by,omitempty"`
	DeniedAt         *time.Time `json:"denied_at,omitempty"`
	DenialReason     string     `json:"denial_reason,omitempty"`
	DisplacedBy      *uuid.UUID `json:"displaced_by,omitempty"`
	DisplacedAt      *time.Time `json:"displaced_at,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (b Booking) MarshalJSON() ([]byte, error) {
	w := bookingJSON{
		ID:               b.ID,
		RoomID:           b.RoomID,
		Department:       b.Department,
		Start:            b.Start,
		End:              b.End,
		PatientName:      b.PatientName,
		HospitalNumber:   b.HospitalNumber,
		PatientAge:       b.PatientAge,
		PatientCategory:  b.PatientCategory,
		Procedure:        b.Procedure,
		Surgeon:          b.Surgeon,
		Anesthesiologist: b.Anesthesiologist,
		Nurses:           b.Nurses,
		Equipment:        b.Equipment,
		EstimatedMinutes: b.EstimatedMinutes,
		ActualStart:      b.ActualStart,
		ActualEnd:        b.ActualEnd,
		Status:           b.Status,
		Notes:            b.Notes,
		CreatedBy:        b.CreatedBy,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
	if !b.Date.IsZero() {
		w.Date = b.Date.Format(DateLayout)
	}
	if reason, ok := b.EmergencyReason(); ok {
		w.IsEmergency = true
		w.EmergencyReason = reason
	}
	switch r := b.Ruling.(type) {
	case *Approval:
		w.ApprovedBy = r.By
		at := r.At
		w.ApprovedAt = &at
	case *Denial:
		w.DeniedBy = r.By
		at := r.At
		w.DeniedAt = &at
		w.DenialReason = r.Reason
	}
	if d := b.Displacement; d != nil {
		id, at := d.EmergencyID, d.At
		w.DisplacedBy = &id
		w.DisplacedAt = &at
	}
	return json.Marshal(w)
}

func (b *Booking) UnmarshalJSON(data []byte) error {
	var w bookingJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = Booking{
		ID:               w.ID,
		RoomID:           w.RoomID,
		Department:       w.Department,
		Start:            w.Start,
		End:              w.End,
		PatientName:      w.PatientName,
		HospitalNumber:   w.HospitalNumber,
		PatientAge:       w.PatientAge,
		PatientCategory:  w.PatientCategory,
		Procedure:        w.Procedure,
		Surgeon:          w.Surgeon,
		Anesthesiologist: w.Anesthesiologist,
		Nurses:           w.Nurses,
		Equipment:        w.Equipment,
		EstimatedMinutes: w.EstimatedMinutes,
		ActualStart:      w.ActualStart,
		ActualEnd:        w.ActualEnd,
		Status:           w.Status,
		Origin:           Elective{},
		Notes:            w.Notes,
		CreatedBy:        w.CreatedBy,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
	if w.Date != "" {
		d, err := ParseDate(w.Date)
		if err != nil {
			return err
		}
		b.Date = d
	}
	if w.IsEmergency {
		b.Origin = Emergency{Reason: w.EmergencyReason}
	}
	switch {
	case w.Status == StatusDenied:
		d := &Denial{By: w.DeniedBy, Reason: w.DenialReason}
		if w.DeniedAt != nil {
			d.At = *w.DeniedAt
		}
		b.Ruling = d
	case w.ApprovedBy != "":
		a := &Approval{By: w.ApprovedBy}
		if w.ApprovedAt != nil {
			a.At = *w.ApprovedAt
		}
		b.Ruling = a
	}
	if w.DisplacedBy != nil {
		d := &Displacement{EmergencyID: *w.DisplacedBy}
		if w.DisplacedAt != nil {
			d.At = *w.DisplacedAt
		}
		b.Displacement = d
	}
	return nil
}
