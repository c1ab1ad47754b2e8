package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Change is one booking write produced by a command. Before is nil when the
// booking is being created.
type Change struct {
	Before *Booking
	After  *Booking
}

func (c Change) IsCreate() bool { return c.Before == nil }

// Command computes the changes an operation wants to make, given a snapshot
// of the ledger. Plan must not mutate the snapshot.
type Command interface {
	Plan(view []*Booking) ([]Change, error)
}

// CommandFunc adapts a function to Command.
type CommandFunc func(view []*Booking) ([]Change, error)

func (f CommandFunc) Plan(view []*Booking) ([]Change, error) { return f(view) }

// Writer persists single bookings.
type Writer interface {
	Create(ctx context.Context, b *Booking) error
	Update(ctx context.Context, b *Booking) error
}

// BatchWriter persists a set of changes all-or-nothing.
type BatchWriter interface {
	WriteBatch(ctx context.Context, changes []Change) error
}

// Reloader fetches the authoritative bookings for one calendar day.
type Reloader interface {
	Reload(ctx context.Context, day time.Time) ([]*Booking, error)
}

// Ledger is the in-memory working set of bookings an operation plans
// against. Callers own it and pass it explicitly.
type Ledger struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*Booking
	order []uuid.UUID
}

func NewLedger(bookings ...*Booking) *Ledger {
	l := &Ledger{byID: make(map[uuid.UUID]*Booking)}
	l.Load(bookings)
	return l
}

// Load inserts or replaces bookings by id.
func (l *Ledger) Load(bookings []*Booking) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range bookings {
		l.putLocked(b.Clone())
	}
}

func (l *Ledger) putLocked(b *Booking) {
	if _, ok := l.byID[b.ID]; !ok {
		l.order = append(l.order, b.ID)
	}
	l.byID[b.ID] = b
}

func (l *Ledger) deleteLocked(id uuid.UUID) {
	if _, ok := l.byID[id]; !ok {
		return
	}
	delete(l.byID, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// Bookings returns copies of every booking in load order.
func (l *Ledger) Bookings() []*Booking {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Booking, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id].Clone())
	}
	return out
}

// OnDay returns copies of the bookings scheduled on day, ordered by start.
func (l *Ledger) OnDay(day time.Time) []*Booking {
	var out []*Booking
	for _, b := range l.Bookings() {
		if SameDay(b.Date, day) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Replace swaps every booking on day for fresh.
func (l *Ledger) Replace(day time.Time, fresh []*Booking) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range append([]uuid.UUID(nil), l.order...) {
		if SameDay(l.byID[id].Date, day) {
			l.deleteLocked(id)
		}
	}
	for _, b := range fresh {
		l.putLocked(b.Clone())
	}
}

// Execute plans cmd against the current contents, applies the changes
// locally, then persists them through w. When persistence fails the local
// changes are undone, the affected days are reloaded through r (if given)
// and a *PersistenceError is returned.
func (l *Ledger) Execute(ctx context.Context, cmd Command, w Writer, r Reloader) ([]Change, error) {
	changes, err := cmd.Plan(l.Bookings())
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, nil
	}

	l.mu.Lock()
	for _, c := range changes {
		l.putLocked(c.After.Clone())
	}
	l.mu.Unlock()

	written, err := persist(ctx, w, changes)
	if err == nil {
		return changes, nil
	}

	perr := &PersistenceError{Op: "write bookings", Err: err, Written: written}
	l.mu.Lock()
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		if c.IsCreate() {
			l.deleteLocked(c.After.ID)
		} else {
			l.putLocked(c.Before.Clone())
		}
		perr.Restored = append(perr.Restored, c.After.ID)
	}
	l.mu.Unlock()

	if r != nil {
		for _, day := range affectedDays(changes) {
			fresh, rerr := r.Reload(ctx, day)
			if rerr != nil {
				perr.ReloadErr = rerr
				continue
			}
			l.Replace(day, fresh)
		}
	}
	return nil, perr
}

func persist(ctx context.Context, w Writer, changes []Change) ([]uuid.UUID, error) {
	if bw, ok := w.(BatchWriter); ok && len(changes) > 1 {
		return nil, bw.WriteBatch(ctx, changes)
	}
	var written []uuid.UUID
	for _, c := range changes {
		var err error
		if c.IsCreate() {
			err = w.Create(ctx, c.After)
		} else {
			err = w.Update(ctx, c.After)
		}
		if err != nil {
			return written, err
		}
		written = append(written, c.After.ID)
	}
	return written, nil
}

func affectedDays(changes []Change) []time.Time {
	var days []time.Time
	add := func(d time.Time) {
		for _, have := range days {
			if SameDay(have, d) {
				return
			}
		}
		days = append(days, Day(d))
	}
	for _, c := range changes {
		if c.Before != nil {
			add(c.Before.Date)
		}
		add(c.After.Date)
	}
	return days
}
