package room

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orsched/orsched/internal/domain/booking"
	"github.com/orsched/orsched/internal/platform/audit"
	"github.com/orsched/orsched/internal/platform/auth"
	"github.com/orsched/orsched/internal/platform/guard"
	"github.com/orsched/orsched/internal/platform/notify"
)

var (
	orOne = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	orTwo = uuid.MustParse("22222222-2222-2222-2222-222222222222")

	// monday is 2026-10-19.
	monday = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	admin = auth.Actor{ID: "admin-1", Roles: []string{auth.RoleAdmin}}
	nurse = auth.Actor{ID: "nurse-1", Roles: []string{auth.RoleNurse}, Department: "GENSURG"}
)

func at(day time.Time, clock string) time.Time {
	return booking.MustClock(clock).On(day, time.UTC)
}

func caseIn(room uuid.UUID, day time.Time, start, end string, status booking.Status) *booking.Booking {
	return &booking.Booking{
		ID:          uuid.New(),
		RoomID:      room,
		Department:  "GENSURG",
		Date:        day,
		Start:       booking.MustClock(start),
		End:         booking.MustClock(end),
		PatientName: "Maria Clara",
		Procedure:   "Cholecystectomy",
		Surgeon:     "Dr. Reyes",
		Status:      status,
		Origin:      booking.Elective{},
		Ruling:      &booking.Approval{By: "admin-1", At: at(day.AddDate(0, 0, -1), "10:00")},
		CreatedBy:   "staff-3",
		CreatedAt:   at(day.AddDate(0, 0, -2), "09:00"),
		UpdatedAt:   at(day.AddDate(0, 0, -2), "09:00"),
	}
}

// bookingStore is a map-backed booking.Repository.
type bookingStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*booking.Booking
	fail  error
}

func newBookingStore(seed ...*booking.Booking) *bookingStore {
	s := &bookingStore{items: make(map[uuid.UUID]*booking.Booking)}
	for _, b := range seed {
		s.items[b.ID] = b.Clone()
	}
	return s
}

func (s *bookingStore) Create(_ context.Context, b *booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[b.ID] = b.Clone()
	return nil
}

func (s *bookingStore) Update(_ context.Context, b *booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if _, ok := s.items[b.ID]; !ok {
		return booking.ErrNotFound
	}
	s.items[b.ID] = b.Clone()
	return nil
}

func (s *bookingStore) GetByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.items[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *bookingStore) List(_ context.Context, f booking.Filter) ([]*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*booking.Booking
	for _, b := range s.items {
		if f.Date != nil && !booking.SameDay(b.Date, *f.Date) {
			continue
		}
		if f.RoomID != nil && b.RoomID != *f.RoomID {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (s *bookingStore) get(id uuid.UUID) *booking.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id]
}

// roomStore is a map-backed Repository.
type roomStore struct {
	mu        sync.Mutex
	rooms     map[uuid.UUID]*Room
	statuses  map[uuid.UUID]*LiveStatus
	upsertErr error
}

func newRoomStore(rooms ...*Room) *roomStore {
	s := &roomStore{rooms: make(map[uuid.UUID]*Room), statuses: make(map[uuid.UUID]*LiveStatus)}
	for _, r := range rooms {
		cp := *r
		s.rooms[r.ID] = &cp
	}
	return s
}

func (s *roomStore) Create(_ context.Context, r *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rooms[r.ID] = &cp
	return nil
}

func (s *roomStore) Update(_ context.Context, r *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	s.rooms[r.ID] = &cp
	return nil
}

func (s *roomStore) GetByID(_ context.Context, id uuid.UUID) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *roomStore) List(_ context.Context, activeOnly bool) ([]*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Room
	for _, r := range s.rooms {
		if activeOnly && !r.IsActive {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *roomStore) GetStatus(_ context.Context, roomID uuid.UUID) (*LiveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[roomID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *roomStore) ListStatuses(_ context.Context) ([]*LiveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*LiveStatus
	for _, st := range s.statuses {
		cp := *st
		out = append(out, &cp)
	}
	return out, nil
}

func (s *roomStore) UpsertStatus(_ context.Context, st *LiveStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	cp := *st
	s.statuses[st.RoomID] = &cp
	return nil
}

func (s *roomStore) status(roomID uuid.UUID) *LiveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[roomID]
}

// undoTx rolls the booking store back when fn fails, standing in for a
// database transaction.
type undoTx struct{ store *bookingStore }

func (u undoTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	u.store.mu.Lock()
	saved := make(map[uuid.UUID]*booking.Booking, len(u.store.items))
	for id, b := range u.store.items {
		saved[id] = b.Clone()
	}
	u.store.mu.Unlock()

	err := fn(ctx)
	if err != nil {
		u.store.mu.Lock()
		u.store.items = saved
		u.store.mu.Unlock()
	}
	return err
}

type fixture struct {
	svc      *Service
	rooms    *roomStore
	bookings *bookingStore
	sent     *notify.Recorder
	audit    *audit.MemoryRecorder
	now      time.Time
}

func newFixture(seed ...*booking.Booking) *fixture {
	f := &fixture{
		rooms: newRoomStore(
			&Room{ID: orOne, Name: "OR 1", IsActive: true},
			&Room{ID: orTwo, Name: "OR 2", IsActive: true},
		),
		bookings: newBookingStore(seed...),
		sent:     &notify.Recorder{},
		audit:    &audit.MemoryRecorder{},
		now:      at(monday, "08:00"),
	}
	policy := booking.DefaultPolicy()
	policy.Location = time.UTC
	bookings := booking.NewService(f.bookings, policy,
		booking.WithTransactor(undoTx{store: f.bookings}),
		booking.WithGuard(guard.NewLocal()),
		booking.WithNotifier(f.sent),
		booking.WithAudit(f.audit),
		booking.WithRoomLookup(Directory{Repo: f.rooms}),
		booking.WithClock(func() time.Time { return f.now }),
	)
	f.svc = NewService(f.rooms, bookings, f.sent, f.audit, zerolog.Nop())
	return f
}

var errStore = errors.New("store offline")
