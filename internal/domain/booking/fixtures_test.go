package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orsched/orsched/internal/platform/auth"
)

var (
	roomOne = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	roomTwo = uuid.MustParse("22222222-2222-2222-2222-222222222222")

	// monday is 2026-10-19.
	monday   = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	tuesday  = monday.AddDate(0, 0, 1)
	saturday = monday.AddDate(0, 0, 5)

	adminActor     = auth.Actor{ID: "admin-1", Roles: []string{auth.RoleAdmin}}
	orthoStaff     = auth.Actor{ID: "staff-1", Roles: []string{auth.RoleStaff}, Department: "ORTHO"}
	otherNurse     = auth.Actor{ID: "nurse-9", Roles: []string{auth.RoleNurse}, Department: "GENSURG"}
	anesthesiaLead = auth.Actor{ID: "anes-1", Roles: []string{auth.RoleAnesthesiaAdmin}, Department: "ANES"}
)

func at(day time.Time, clock string) time.Time {
	return MustClock(clock).On(day, time.UTC)
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.Location = time.UTC
	p.FallbackContact = "the OR desk"
	return p
}

func newBooking(room uuid.UUID, day time.Time, start, end string, status Status) *Booking {
	return &Booking{
		ID:          uuid.New(),
		RoomID:      room,
		Department:  "ORTHO",
		Date:        day,
		Start:       MustClock(start),
		End:         MustClock(end),
		PatientName: "Juan Dela Cruz",
		Procedure:   "ORIF left femur",
		Surgeon:     "Dr. Santos",
		Status:      status,
		Origin:      Elective{},
		CreatedBy:   orthoStaff.ID,
		CreatedAt:   at(day.AddDate(0, 0, -2), "09:00"),
		UpdatedAt:   at(day.AddDate(0, 0, -2), "09:00"),
	}
}

// request is a booking as a client would submit it.
func request(room uuid.UUID, day time.Time, start, end string) *Booking {
	return &Booking{
		RoomID:      room,
		Date:        day,
		Start:       MustClock(start),
		End:         MustClock(end),
		PatientName: "Maria Clara",
		Procedure:   "Laparoscopic cholecystectomy",
		Surgeon:     "Dr. Reyes",
	}
}

// memRepo is a map-backed Repository. failOn makes writes of the given
// booking ids fail.
type memRepo struct {
	mu     sync.Mutex
	items  map[uuid.UUID]*Booking
	failOn map[uuid.UUID]error
	listFn func() error
	writes int
}

func newMemRepo(seed ...*Booking) *memRepo {
	r := &memRepo{items: make(map[uuid.UUID]*Booking), failOn: make(map[uuid.UUID]error)}
	for _, b := range seed {
		r.items[b.ID] = b.Clone()
	}
	return r
}

func (r *memRepo) Create(_ context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOn[b.ID]; err != nil {
		return err
	}
	r.writes++
	r.items[b.ID] = b.Clone()
	return nil
}

func (r *memRepo) Update(_ context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOn[b.ID]; err != nil {
		return err
	}
	if _, ok := r.items[b.ID]; !ok {
		return ErrNotFound
	}
	r.writes++
	r.items[b.ID] = b.Clone()
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (r *memRepo) List(_ context.Context, f Filter) ([]*Booking, error) {
	if r.listFn != nil {
		if err := r.listFn(); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Booking
	for _, b := range r.items {
		if f.Date != nil && !SameDay(b.Date, *f.Date) {
			continue
		}
		if f.From != nil && b.Date.Before(Day(*f.From)) {
			continue
		}
		if f.To != nil && b.Date.After(Day(*f.To)) {
			continue
		}
		if f.RoomID != nil && b.RoomID != *f.RoomID {
			continue
		}
		if f.Department != "" && b.Department != f.Department {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.CreatedBy != "" && b.CreatedBy != f.CreatedBy {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *memRepo) get(id uuid.UUID) *Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id].Clone()
}

// batchRepo adds an all-or-nothing WriteBatch to memRepo.
type batchRepo struct {
	*memRepo
	batchErr error
	batches  int
}

func (r *batchRepo) WriteBatch(_ context.Context, changes []Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batchErr != nil {
		return r.batchErr
	}
	for _, c := range changes {
		if err := r.failOn[c.After.ID]; err != nil {
			return err
		}
	}
	for _, c := range changes {
		r.items[c.After.ID] = c.After.Clone()
	}
	r.batches++
	return nil
}
