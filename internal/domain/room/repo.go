package room

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Room) error
	Update(ctx context.Context, r *Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*Room, error)
	List(ctx context.Context, activeOnly bool) ([]*Room, error)

	// GetStatus returns nil, nil when the room has no stored status.
	GetStatus(ctx context.Context, roomID uuid.UUID) (*LiveStatus, error)
	ListStatuses(ctx context.Context) ([]*LiveStatus, error)
	UpsertStatus(ctx context.Context, s *LiveStatus) error
}

// Directory resolves room names for booking notifications.
type Directory struct {
	Repo Repository
}

func (d Directory) RoomName(ctx context.Context, id uuid.UUID) (string, error) {
	r, err := d.Repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return r.Name, nil
}
