package booking

import (
	"strings"
)

// Overlaps reports whether [s1,e1) and [s2,e2) share any minute. Back-to-back
// ranges do not overlap.
func Overlaps(s1, e1, s2, e2 Clock) bool {
	return max(s1, s2) < min(e1, e2)
}

// RequiresAnesthesiologist reports whether a patient category needs an
// anesthesiologist named at submission.
func RequiresAnesthesiologist(category string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(category)), "CP")
}

func sameSlotDay(a, b *Booking) bool {
	return SameDay(a.Date, b.Date) && Overlaps(a.Start, a.End, b.Start, b.End)
}

// FindRoomConflict returns the first active booking in existing that holds
// the candidate's room at an overlapping time on the same day. The candidate
// itself is skipped by id.
func FindRoomConflict(existing []*Booking, candidate *Booking) *Booking {
	for _, b := range existing {
		if b.ID == candidate.ID || !b.Status.IsActive() {
			continue
		}
		if b.RoomID == candidate.RoomID && sameSlotDay(b, candidate) {
			return b
		}
	}
	return nil
}

// FindAnesthesiologistConflict returns the first active booking that already
// has the candidate's anesthesiologist at an overlapping time, in any room.
func FindAnesthesiologistConflict(existing []*Booking, candidate *Booking) *Booking {
	name := normalizeName(candidate.Anesthesiologist)
	if name == "" {
		return nil
	}
	for _, b := range existing {
		if b.ID == candidate.ID || !b.Status.IsActive() {
			continue
		}
		if normalizeName(b.Anesthesiologist) == name && sameSlotDay(b, candidate) {
			return b
		}
	}
	return nil
}

// CheckConflicts runs the room check and, for categories that require one,
// the anesthesiologist check.
func CheckConflicts(existing []*Booking, candidate *Booking) error {
	if c := FindRoomConflict(existing, candidate); c != nil {
		return &ConflictError{Kind: RoomConflict, With: c}
	}
	if RequiresAnesthesiologist(candidate.PatientCategory) {
		if c := FindAnesthesiologistConflict(existing, candidate); c != nil {
			return &ConflictError{Kind: AnesthesiologistConflict, With: c}
		}
	}
	return nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
