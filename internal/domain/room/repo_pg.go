package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orsched/orsched/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RepoPG stores rooms and their live status in PostgreSQL.
type RepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) *RepoPG { return &RepoPG{pool: pool} }

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const roomCols = `id, name, designation, is_active, buffer_minutes, created_at, updated_at`

func scanRoom(row pgx.Row) (*Room, error) {
	var rm Room
	err := row.Scan(&rm.ID, &rm.Name, &rm.Designation, &rm.IsActive, &rm.BufferMinutes, &rm.CreatedAt, &rm.UpdatedAt)
	return &rm, err
}

func (r *RepoPG) Create(ctx context.Context, rm *Room) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO or_room (`+roomCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rm.ID, rm.Name, rm.Designation, rm.IsActive, rm.BufferMinutes, rm.CreatedAt, rm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (r *RepoPG) Update(ctx context.Context, rm *Room) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE or_room SET name=$2, designation=$3, is_active=$4, buffer_minutes=$5, updated_at=$6
		WHERE id = $1`,
		rm.ID, rm.Name, rm.Designation, rm.IsActive, rm.BufferMinutes, rm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	rm, err := scanRoom(r.conn(ctx).QueryRow(ctx, `SELECT `+roomCols+` FROM or_room WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return rm, nil
}

func (r *RepoPG) List(ctx context.Context, activeOnly bool) ([]*Room, error) {
	q := `SELECT ` + roomCols + ` FROM or_room`
	if activeOnly {
		q += ` WHERE is_active`
	}
	rows, err := r.conn(ctx).Query(ctx, q+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()
	var out []*Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

const statusCols = `room_id, status, current_booking_id, updated_by, updated_at`

func scanStatus(row pgx.Row) (*LiveStatus, error) {
	var (
		s     LiveStatus
		state string
	)
	if err := row.Scan(&s.RoomID, &state, &s.CurrentBookingID, &s.UpdatedBy, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.State = State(state)
	return &s, nil
}

func (r *RepoPG) GetStatus(ctx context.Context, roomID uuid.UUID) (*LiveStatus, error) {
	s, err := scanStatus(r.conn(ctx).QueryRow(ctx,
		`SELECT `+statusCols+` FROM room_live_status WHERE room_id = $1`, roomID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room status: %w", err)
	}
	return s, nil
}

func (r *RepoPG) ListStatuses(ctx context.Context) ([]*LiveStatus, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+statusCols+` FROM room_live_status`)
	if err != nil {
		return nil, fmt.Errorf("list room statuses: %w", err)
	}
	defer rows.Close()
	var out []*LiveStatus
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *RepoPG) UpsertStatus(ctx context.Context, s *LiveStatus) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO room_live_status (`+statusCols+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_id) DO UPDATE SET
			status = EXCLUDED.status,
			current_booking_id = EXCLUDED.current_booking_id,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`,
		s.RoomID, string(s.State), s.CurrentBookingID, s.UpdatedBy, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert room status: %w", err)
	}
	return nil
}
