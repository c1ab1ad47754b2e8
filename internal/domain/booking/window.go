package booking

import (
	"fmt"
	"time"

	"github.com/orsched/orsched/internal/platform/auth"
)

// Policy holds the temporal rules applied to elective requests and edits.
type Policy struct {
	CutoffHour       int
	AdvanceDays      int
	ModificationLead time.Duration
	FallbackContact  string
	Location         *time.Location
}

func DefaultPolicy() Policy {
	return Policy{
		CutoffHour:       12,
		AdvanceDays:      14,
		ModificationLead: 24 * time.Hour,
		FallbackContact:  "the OR scheduling office",
		Location:         time.Local,
	}
}

func (p Policy) loc() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

func (p Policy) violation(code ViolationCode, format string, args ...interface{}) error {
	return &PolicyViolation{Code: code, Reason: fmt.Sprintf(format, args...), Contact: p.FallbackContact}
}

// Today returns the current calendar day in the hospital's location.
func (p Policy) Today(now time.Time) time.Time {
	return Day(now.In(p.loc()))
}

// CheckSubmission decides whether a new booking for target may be filed at
// now. Emergencies and administrators are never refused. At most one
// violation is reported, checked in order: weekend, noon cutoff, advance
// window, past date.
func (p Policy) CheckSubmission(now, target time.Time, actor auth.Actor, emergency bool) error {
	if emergency || actor.IsAdmin() {
		return nil
	}
	local := now.In(p.loc())
	days := DaysBetween(Day(local), target)

	switch wd := Day(target).Weekday(); wd {
	case time.Saturday, time.Sunday:
		return p.violation(Weekend,
			"Elective bookings cannot be made for %s; weekend cases are handled by phone.", wd)
	}
	if days == 0 && local.Hour() >= p.CutoffHour {
		return p.violation(NoonCutoff,
			"Same-day bookings close at %02d:00.", p.CutoffHour)
	}
	if days > p.AdvanceDays {
		return p.violation(AdvanceWindowExceeded,
			"Bookings can be made at most %d days in advance.", p.AdvanceDays)
	}
	if days < 0 {
		return p.violation(PastDate, "Bookings cannot be made for a past date.")
	}
	return nil
}

// CheckModification decides whether b may be edited or cancelled at now.
func (p Policy) CheckModification(now time.Time, b *Booking, actor auth.Actor) error {
	local := now.In(p.loc())
	if b.StartAt(p.loc()).Sub(local) < p.ModificationLead {
		return p.violation(ModificationWindowExpired,
			"Bookings cannot be changed less than %s before the scheduled start.", leadText(p.ModificationLead))
	}
	if actor.IsAdmin() || ownsBooking(actor, b) {
		return nil
	}
	if b.Status == StatusApproved && DaysBetween(Day(local), b.Date) == 1 && local.Hour() >= p.CutoffHour {
		return p.violation(NoonLocked,
			"Tomorrow's approved schedule is locked after %02d:00.", p.CutoffHour)
	}
	return nil
}

func leadText(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d.Hours()))
	}
	return d.String()
}
