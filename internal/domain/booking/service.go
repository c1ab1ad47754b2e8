package booking

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orsched/orsched/internal/platform/audit"
	"github.com/orsched/orsched/internal/platform/auth"
	"github.com/orsched/orsched/internal/platform/guard"
	"github.com/orsched/orsched/internal/platform/notify"
)

// RoomLookup resolves room display names for notifications.
type RoomLookup interface {
	RoomName(ctx context.Context, id uuid.UUID) (string, error)
}

type Service struct {
	repo     Repository
	policy   Policy
	tx       Transactor
	guard    guard.Guard
	notifier notify.Notifier
	audit    audit.Recorder
	rooms    RoomLookup
	log      zerolog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithTransactor(tx Transactor) Option   { return func(s *Service) { s.tx = tx } }
func WithGuard(g guard.Guard) Option        { return func(s *Service) { s.guard = g } }
func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithAudit(r audit.Recorder) Option     { return func(s *Service) { s.audit = r } }
func WithRoomLookup(r RoomLookup) Option    { return func(s *Service) { s.rooms = r } }
func WithLogger(l zerolog.Logger) Option    { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(repo Repository, policy Policy, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		policy:   policy,
		tx:       NoTx{},
		guard:    guard.Nop{},
		notifier: notify.Nop,
		audit:    audit.RecorderFunc(func(context.Context, audit.Entry) error { return nil }),
		log:      zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the temporal policy in force.
func (s *Service) Policy() Policy { return s.policy }

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

// DayKey is the write-guard key covering every booking on day.
func DayKey(day time.Time) string {
	return "bookings:" + Day(day).Format(DateLayout)
}

func (s *Service) load(ctx context.Context, days []time.Time) (*Ledger, error) {
	l := NewLedger()
	for _, d := range days {
		dd := Day(d)
		items, err := s.repo.List(ctx, Filter{Date: &dd})
		if err != nil {
			return nil, &PersistenceError{Op: "load bookings", Err: err}
		}
		l.Load(items)
	}
	return l, nil
}

// Run executes cmd against the bookings of days while holding the write
// guard for those days. after, when given, runs in the same unit of work once
// the booking changes are written.
func (s *Service) Run(ctx context.Context, days []time.Time, cmd Command, after func(ctx context.Context, changes []Change) error) ([]Change, error) {
	keys := make([]string, 0, len(days))
	for _, d := range days {
		keys = append(keys, DayKey(d))
	}
	acquire := func(ctx context.Context) (guard.Release, error) {
		release, err := guard.AcquireAll(ctx, s.guard, keys...)
		if err != nil {
			s.log.Warn().Err(err).Strs("keys", keys).Msg("write guard contention")
			return nil, &PersistenceError{Op: "acquire write guard", Err: err}
		}
		return release, nil
	}
	// Transaction-scoped locks are taken on the unit of work itself; the
	// others must span the commit.
	inTx := guard.IsTxScoped(s.guard)
	if !inTx {
		release, err := acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	var changes []Change
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if inTx {
			release, err := acquire(ctx)
			if err != nil {
				return err
			}
			defer release()
		}
		ledger, err := s.load(ctx, days)
		if err != nil {
			return err
		}
		changes, err = ledger.Execute(ctx, cmd, s.repo, DayReloader{Repo: s.repo})
		if err != nil {
			return err
		}
		if after != nil {
			if err := after(ctx, changes); err != nil {
				return &PersistenceError{Op: "finish write", Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Booking, error) {
	return s.repo.List(ctx, f)
}

// Submit files an elective request in pending state.
func (s *Service) Submit(ctx context.Context, actor auth.Actor, b *Booking) (*Booking, error) {
	changes, err := s.Run(ctx, []time.Time{b.Date}, Submit{
		Booking: b, Actor: actor, Now: s.now(), Policy: s.policy,
	}, nil)
	if err != nil {
		return nil, err
	}
	created := changes[0].After

	data := s.data(ctx, created)
	s.emit(ctx, notify.Message{
		Kind:     notify.BookingRequested,
		Audience: notify.Audience{Roles: []string{auth.RoleAdmin}},
		Data:     data,
	})
	s.emit(ctx, notify.Message{
		Kind:     notify.BookingConfirmed,
		Audience: notify.Audience{Users: []string{created.CreatedBy}},
		Data:     data,
	})
	s.record(ctx, actor, "booking_submit", nil, created)
	return created, nil
}

func (s *Service) current(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "load booking", Err: err}
	}
	return b, nil
}

func (s *Service) single(ctx context.Context, id uuid.UUID, extraDay *time.Time, cmd Command) (*Change, error) {
	b, err := s.current(ctx, id)
	if err != nil {
		return nil, err
	}
	days := []time.Time{b.Date}
	if extraDay != nil {
		days = append(days, *extraDay)
	}
	changes, err := s.Run(ctx, days, cmd, nil)
	if err != nil {
		return nil, err
	}
	return &changes[0], nil
}

// Approve confirms a pending request. Administrators only.
func (s *Service) Approve(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Booking, error) {
	ch, err := s.single(ctx, id, nil, Decide{ID: id, Approve: true, Actor: actor, At: s.now()})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, notify.Message{
		Kind:     notify.BookingApproved,
		Audience: ownerAudience(ch.After),
		Data:     s.data(ctx, ch.After),
	})
	s.record(ctx, actor, "booking_approve", ch.Before, ch.After)
	return ch.After, nil
}

// Deny refuses a pending request with a reason. Administrators only.
func (s *Service) Deny(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Booking, error) {
	ch, err := s.single(ctx, id, nil, Decide{ID: id, Reason: reason, Actor: actor, At: s.now()})
	if err != nil {
		return nil, err
	}
	data := s.data(ctx, ch.After)
	data["reason"] = reason
	s.emit(ctx, notify.Message{
		Kind:     notify.BookingDenied,
		Audience: ownerAudience(ch.After),
		Data:     data,
	})
	s.record(ctx, actor, "booking_deny", ch.Before, ch.After)
	return ch.After, nil
}

// Edit changes content fields, re-checking conflicts when the booking moves.
func (s *Service) Edit(ctx context.Context, actor auth.Actor, id uuid.UUID, e Edit) (*Booking, error) {
	ch, err := s.single(ctx, id, e.Date, Modify{ID: id, Edit: e, Actor: actor, Now: s.now(), Policy: s.policy})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, "booking_edit", ch.Before, ch.After)
	return ch.After, nil
}

// AssignAnesthesiologist sets the anesthesiologist. Anesthesia
// administrators and administrators only.
func (s *Service) AssignAnesthesiologist(ctx context.Context, actor auth.Actor, id uuid.UUID, name string) (*Booking, error) {
	if !actor.IsAdmin() && !actor.HasRole(auth.RoleAnesthesiaAdmin) {
		return nil, ErrForbidden
	}
	ch, err := s.single(ctx, id, nil, AssignAnesthesiologist{ID: id, Name: name, Actor: actor, At: s.now()})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, "booking_assign_anesthesiologist", ch.Before, ch.After)
	return ch.After, nil
}

// Cancel withdraws an approved or ongoing booking.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Booking, error) {
	ch, err := s.single(ctx, id, nil, Cancel{ID: id, Reason: reason, Actor: actor, Now: s.now(), Policy: s.policy})
	if err != nil {
		return nil, err
	}
	s.NotifyCancelled(ctx, ch.After, reason)
	s.record(ctx, actor, "booking_cancel", ch.Before, ch.After)
	return ch.After, nil
}

// NotifyCancelled tells the owner and administrators a booking was cancelled.
func (s *Service) NotifyCancelled(ctx context.Context, b *Booking, reason string) {
	data := s.data(ctx, b)
	data["reason"] = reason
	aud := ownerAudience(b)
	aud.Roles = []string{auth.RoleAdmin}
	s.emit(ctx, notify.Message{Kind: notify.BookingCancelled, Audience: aud, Data: data})
}

// EmergencyResult is the outcome of a confirmed emergency insertion.
type EmergencyResult struct {
	Emergency *Booking   `json:"emergency"`
	Bumped    []*Booking `json:"bumped"`
}

// PreviewEmergency returns the bookings an emergency case would displace
// without changing anything.
func (s *Service) PreviewEmergency(ctx context.Context, actor auth.Actor, b *Booking, reason string) (*BumpPreview, error) {
	ledger, err := s.load(ctx, []time.Time{b.Date})
	if err != nil {
		return nil, err
	}
	return InsertEmergency{Booking: b, Reason: reason, Actor: actor, At: s.now()}.Preview(ledger.Bookings())
}

// InsertEmergency places an emergency case. When it would displace bookings
// and confirm is false, ErrConfirmationRequired is returned and nothing
// changes.
func (s *Service) InsertEmergency(ctx context.Context, actor auth.Actor, b *Booking, reason string, confirm bool) (*EmergencyResult, error) {
	if b.ID == uuid.Nil {
		b = b.Clone()
		b.ID = uuid.New()
	}
	cmd := InsertEmergency{Booking: b, Reason: reason, Actor: actor, At: s.now(), Confirm: confirm}
	changes, err := s.Run(ctx, []time.Time{b.Date}, cmd, nil)
	if err != nil {
		var perr *PersistenceError
		if errors.As(err, &perr) && len(perr.Written) > 0 {
			partial := &PartialBumpError{EmergencyID: b.ID, Err: perr.Err}
			written := make(map[uuid.UUID]bool, len(perr.Written))
			for _, id := range perr.Written {
				written[id] = true
				if id != b.ID {
					partial.Displaced = append(partial.Displaced, id)
				}
			}
			for _, id := range perr.Restored {
				if !written[id] {
					partial.Pending = append(partial.Pending, id)
				}
			}
			s.log.Error().Err(perr.Err).
				Str("emergency_id", b.ID.String()).
				Int("displaced", len(partial.Displaced)).
				Int("pending", len(partial.Pending)).
				Msg("emergency insertion partially applied")
			return nil, partial
		}
		return nil, err
	}

	res := &EmergencyResult{Bumped: []*Booking{}}
	for _, c := range changes {
		if c.IsCreate() {
			res.Emergency = c.After
		} else {
			res.Bumped = append(res.Bumped, c.After)
		}
	}
	if res.Emergency == nil {
		// Replay of an insertion whose booking already exists.
		existing, err := s.repo.GetByID(ctx, b.ID)
		if err != nil {
			return nil, &PersistenceError{Op: "load emergency booking", Err: err}
		}
		res.Emergency = existing
	}

	bumpedIDs := make([]string, 0, len(res.Bumped))
	for _, bb := range res.Bumped {
		bumpedIDs = append(bumpedIDs, bb.ID.String())
		data := s.data(ctx, bb)
		data["reason"] = BumpNote(res.Emergency)
		data["emergency_id"] = res.Emergency.ID.String()
		aud := ownerAudience(bb)
		aud.Roles = []string{auth.RoleAdmin}
		s.emit(ctx, notify.Message{Kind: notify.BookingBumped, Audience: aud, Data: data})
		s.record(ctx, actor, "booking_bumped", findBefore(changes, bb.ID), bb)
	}

	data := s.data(ctx, res.Emergency)
	data["reason"] = reason
	data["bumped_count"] = strconv.Itoa(len(res.Bumped))
	s.emit(ctx, notify.Message{Kind: notify.EmergencyInserted, Audience: notify.Audience{Everyone: true}, Data: data})
	s.recordEntry(ctx, audit.Entry{
		ActorID:    actor.ID,
		Action:     "emergency_insert",
		EntityType: "booking",
		EntityID:   res.Emergency.ID.String(),
		NewValues: map[string]interface{}{
			"booking": res.Emergency,
			"bumped":  bumpedIDs,
		},
	})
	return res, nil
}

func findBefore(changes []Change, id uuid.UUID) *Booking {
	for _, c := range changes {
		if c.After.ID == id {
			return c.Before
		}
	}
	return nil
}

func ownerAudience(b *Booking) notify.Audience {
	aud := notify.Audience{Departments: []string{b.Department}}
	if b.CreatedBy != "" {
		aud.Users = []string{b.CreatedBy}
	}
	return aud
}

func (s *Service) roomName(ctx context.Context, id uuid.UUID) string {
	if s.rooms != nil {
		name, err := s.rooms.RoomName(ctx, id)
		if err == nil && name != "" {
			return name
		}
	}
	return id.String()
}

func (s *Service) data(ctx context.Context, b *Booking) map[string]string {
	return map[string]string{
		"booking_id": b.ID.String(),
		"room_id":    b.RoomID.String(),
		"room":       s.roomName(ctx, b.RoomID),
		"department": b.Department,
		"date":       b.Date.Format(DateLayout),
		"start":      b.Start.String(),
		"end":        b.End.String(),
		"procedure":  b.Procedure,
		"surgeon":    b.Surgeon,
		"label":      b.Label(),
		"minutes":    strconv.Itoa(b.DurationMinutes()),
	}
}

func (s *Service) emit(ctx context.Context, msg notify.Message) {
	if msg.At.IsZero() {
		msg.At = s.now()
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.log.Warn().Err(err).
			Str("kind", string(msg.Kind)).
			Str("booking_id", msg.Data["booking_id"]).
			Msg("notification failed")
	}
}

func (s *Service) record(ctx context.Context, actor auth.Actor, action string, before, after *Booking) {
	e := audit.Entry{
		ActorID:    actor.ID,
		Action:     action,
		EntityType: "booking",
		EntityID:   after.ID.String(),
		NewValues:  after,
	}
	if before != nil {
		e.OldValues = before
	}
	s.recordEntry(ctx, e)
}

func (s *Service) recordEntry(ctx context.Context, e audit.Entry) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.log.Warn().Err(err).
			Str("action", e.Action).
			Str("booking_id", e.EntityID).
			Str("actor", e.ActorID).
			Msg("audit record failed")
	}
}
