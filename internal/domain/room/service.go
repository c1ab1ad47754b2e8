package room

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orsched/orsched/internal/domain/booking"
	"github.com/orsched/orsched/internal/platform/audit"
	"github.com/orsched/orsched/internal/platform/auth"
	"github.com/orsched/orsched/internal/platform/notify"
)

type Service struct {
	repo     Repository
	bookings *booking.Service
	notifier notify.Notifier
	audit    audit.Recorder
	log      zerolog.Logger
}

func NewService(repo Repository, bookings *booking.Service, notifier notify.Notifier, rec audit.Recorder, log zerolog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop
	}
	if rec == nil {
		rec = audit.LogRecorder{Logger: log}
	}
	return &Service{repo: repo, bookings: bookings, notifier: notifier, audit: rec, log: log}
}

func validate(r *Room) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return &booking.ValidationError{Code: booking.MissingField, Field: "name"}
	}
	if r.BufferMinutes < 0 {
		return &booking.ValidationError{Code: booking.InvalidTimeRange, Field: "buffer_minutes"}
	}
	return nil
}

func (s *Service) CreateRoom(ctx context.Context, actor auth.Actor, r *Room) error {
	if !actor.IsAdmin() {
		return booking.ErrForbidden
	}
	if err := validate(r); err != nil {
		return err
	}
	now := s.bookings.Now()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt, r.UpdatedAt = now, now
	if err := s.repo.Create(ctx, r); err != nil {
		return err
	}
	s.record(ctx, actor, "room_create", r.ID, nil, r)
	return nil
}

// UpdateRoom replaces the editable fields of a room. Rooms are never deleted;
// set IsActive to false to retire one.
func (s *Service) UpdateRoom(ctx context.Context, actor auth.Actor, r *Room) error {
	if !actor.IsAdmin() {
		return booking.ErrForbidden
	}
	if err := validate(r); err != nil {
		return err
	}
	before, err := s.repo.GetByID(ctx, r.ID)
	if err != nil {
		return err
	}
	r.CreatedAt = before.CreatedAt
	r.UpdatedAt = s.bookings.Now()
	if err := s.repo.Update(ctx, r); err != nil {
		return err
	}
	s.record(ctx, actor, "room_update", r.ID, before, r)
	return nil
}

func (s *Service) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListRooms(ctx context.Context, activeOnly bool) ([]*Room, error) {
	return s.repo.List(ctx, activeOnly)
}

// BoardEntry is one room as shown on the live status board.
type BoardEntry struct {
	Room     *Room            `json:"room"`
	Status   LiveStatus       `json:"status"`
	Fallback bool             `json:"fallback"`
	Featured *booking.Booking `json:"featured,omitempty"`
}

// Board returns every active room with its status on day and the case it
// features. Stored statuses only count on the day they were written.
func (s *Service) Board(ctx context.Context, day time.Time) ([]BoardEntry, error) {
	rooms, err := s.repo.List(ctx, true)
	if err != nil {
		return nil, err
	}
	statuses, err := s.repo.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	stored := make(map[uuid.UUID]*LiveStatus, len(statuses))
	for _, st := range statuses {
		stored[st.RoomID] = st
	}
	d := booking.Day(day)
	items, err := s.bookings.List(ctx, booking.Filter{Date: &d})
	if err != nil {
		return nil, err
	}

	loc := s.bookings.Policy().Location
	out := make([]BoardEntry, 0, len(rooms))
	for _, r := range rooms {
		today := todays(items, r.ID, d)
		status, fallback := Effective(stored[r.ID], r.ID, today, d, loc)
		out = append(out, BoardEntry{
			Room:     r,
			Status:   status,
			Fallback: fallback,
			Featured: Featured(status, today),
		})
	}
	return out, nil
}

// Transition moves a room to a new live state and carries today's bookings in
// that room along with it.
func (s *Service) Transition(ctx context.Context, actor auth.Actor, roomID uuid.UUID, to State) (*BoardEntry, error) {
	if !actor.IsAdmin() {
		return nil, booking.ErrForbidden
	}
	r, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	policy := s.bookings.Policy()
	now := s.bookings.Now()
	today := policy.Today(now)

	stored, err := s.stored(ctx, roomID)
	if err != nil {
		return nil, err
	}
	cascade := &Cascade{
		RoomID:   roomID,
		Stored:   stored,
		Day:      today,
		To:       to,
		Actor:    actor,
		At:       now,
		Location: policy.Location,
	}
	changes, err := s.bookings.Run(ctx, []time.Time{today}, cascade, func(ctx context.Context, _ []booking.Change) error {
		return s.repo.UpsertStatus(ctx, &cascade.Result)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("room_id", roomID.String()).
		Str("from", string(cascade.From)).
		Str("to", string(to)).
		Str("actor", actor.ID).
		Int("cascaded", len(changes)).
		Msg("room status changed")

	var moved *booking.Booking
	if len(changes) > 0 {
		moved = changes[0].After
	}
	if to == StateDeferred && moved != nil {
		s.bookings.NotifyCancelled(ctx, moved, DeferReason)
	}
	if to.Notifies() {
		s.announce(ctx, r, cascade, moved)
	}
	s.record(ctx, actor, "room_status_change", roomID,
		map[string]string{"room": r.Name, "status": string(cascade.From)},
		map[string]string{"room": r.Name, "status": string(to)})

	result := cascade.Result
	entry := &BoardEntry{Room: r, Status: result}
	if view, err := s.bookings.List(ctx, booking.Filter{Date: &today, RoomID: &roomID}); err == nil {
		entry.Featured = Featured(result, todays(view, roomID, today))
	}
	return entry, nil
}

func (s *Service) stored(ctx context.Context, roomID uuid.UUID) (*LiveStatus, error) {
	st, err := s.repo.GetStatus(ctx, roomID)
	if err != nil {
		return nil, &booking.PersistenceError{Op: "load room status", Err: err}
	}
	return st, nil
}

func (s *Service) announce(ctx context.Context, r *Room, c *Cascade, b *booking.Booking) {
	data := map[string]string{
		"room_id":        r.ID.String(),
		"room":           r.Name,
		"state":          string(c.To),
		"previous_state": string(c.From),
	}
	if b != nil {
		data["booking_id"] = b.ID.String()
		data["procedure"] = b.Procedure
	}
	msg := notify.Message{
		Kind:     notify.RoomStatusChanged,
		Audience: notify.Audience{Roles: []string{auth.RoleAdmin, auth.RoleNurse}},
		Data:     data,
		At:       c.At,
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.log.Warn().Err(err).Str("room_id", r.ID.String()).Msg("room notification failed")
	}
}

func (s *Service) record(ctx context.Context, actor auth.Actor, action string, id uuid.UUID, before, after interface{}) {
	e := audit.Entry{
		ActorID:    actor.ID,
		Action:     action,
		EntityType: "or_room",
		EntityID:   id.String(),
		OldValues:  before,
		NewValues:  after,
		At:         s.bookings.Now(),
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.log.Warn().Err(err).Str("room_id", id.String()).Str("action", action).Msg("audit record failed")
	}
}

// IsNotFound reports whether err means the room does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
