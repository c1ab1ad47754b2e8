package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Date       *time.Time
	From       *time.Time
	To         *time.Time
	RoomID     *uuid.UUID
	Department string
	Status     Status
	CreatedBy  string
}

type Repository interface {
	Create(ctx context.Context, b *Booking) error
	Update(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	List(ctx context.Context, f Filter) ([]*Booking, error)
}

// Transactor runs fn in a unit of work that repositories reached through ctx
// share.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoTx runs fn directly. Used with stores that have no transactions.
type NoTx struct{}

func (NoTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// DayReloader implements Reloader on top of a Repository.
type DayReloader struct {
	Repo Repository
}

func (r DayReloader) Reload(ctx context.Context, day time.Time) ([]*Booking, error) {
	d := Day(day)
	return r.Repo.List(ctx, Filter{Date: &d})
}
