package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orsched/orsched/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RepoPG stores bookings in PostgreSQL. It implements Repository and
// BatchWriter.
type RepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) *RepoPG { return &RepoPG{pool: pool} }

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const bookingCols = `id, room_id, department, date, start_time, end_time,
	patient_name, hospital_number, patient_age, patient_category, procedure, surgeon,
	anesthesiologist, nurses, equipment, estimated_minutes, actual_start, actual_end,
	status, is_emergency, emergency_reason, approved_by, approved_at,
	denied_by, denied_at, denial_reason, displaced_by, displaced_at,
	notes, created_by, created_at, updated_at`

func clockToPG(c Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * int64(time.Minute/time.Microsecond), Valid: true}
}

func clockFromPG(t pgtype.Time) Clock {
	return Clock(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// bookingRow is the flat column image of a Booking.
type bookingRow struct {
	isEmergency     bool
	emergencyReason *string
	approvedBy      *string
	approvedAt      *time.Time
	deniedBy        *string
	deniedAt        *time.Time
	denialReason    *string
	displacedBy     *uuid.UUID
	displacedAt     *time.Time
}

func rowOf(b *Booking) bookingRow {
	var r bookingRow
	if reason, ok := b.EmergencyReason(); ok {
		r.isEmergency = true
		r.emergencyReason = &reason
	}
	switch v := b.Ruling.(type) {
	case *Approval:
		r.approvedBy, r.approvedAt = nullable(v.By), &v.At
	case *Denial:
		r.deniedBy, r.deniedAt, r.denialReason = nullable(v.By), &v.At, nullable(v.Reason)
	}
	if d := b.Displacement; d != nil {
		r.displacedBy, r.displacedAt = &d.EmergencyID, &d.At
	}
	return r
}

func (r bookingRow) apply(b *Booking) {
	b.Origin = Elective{}
	if r.isEmergency {
		e := Emergency{}
		if r.emergencyReason != nil {
			e.Reason = *r.emergencyReason
		}
		b.Origin = e
	}
	switch {
	case r.deniedAt != nil:
		d := &Denial{At: *r.deniedAt}
		if r.deniedBy != nil {
			d.By = *r.deniedBy
		}
		if r.denialReason != nil {
			d.Reason = *r.denialReason
		}
		b.Ruling = d
	case r.approvedAt != nil:
		a := &Approval{At: *r.approvedAt}
		if r.approvedBy != nil {
			a.By = *r.approvedBy
		}
		b.Ruling = a
	}
	if r.displacedBy != nil && r.displacedAt != nil {
		b.Displacement = &Displacement{EmergencyID: *r.displacedBy, At: *r.displacedAt}
	}
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var start, end pgtype.Time
	var hospitalNumber, category, anesthesiologist, notes *string
	var age, estimated *int
	var extra bookingRow
	err := row.Scan(&b.ID, &b.RoomID, &b.Department, &b.Date, &start, &end,
		&b.PatientName, &hospitalNumber, &age, &category, &b.Procedure, &b.Surgeon,
		&anesthesiologist, &b.Nurses, &b.Equipment, &estimated, &b.ActualStart, &b.ActualEnd,
		&b.Status, &extra.isEmergency, &extra.emergencyReason, &extra.approvedBy, &extra.approvedAt,
		&extra.deniedBy, &extra.deniedAt, &extra.denialReason, &extra.displacedBy, &extra.displacedAt,
		&notes, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Start, b.End = clockFromPG(start), clockFromPG(end)
	if hospitalNumber != nil {
		b.HospitalNumber = *hospitalNumber
	}
	if category != nil {
		b.PatientCategory = *category
	}
	if anesthesiologist != nil {
		b.Anesthesiologist = *anesthesiologist
	}
	if notes != nil {
		b.Notes = *notes
	}
	if age != nil {
		b.PatientAge = *age
	}
	if estimated != nil {
		b.EstimatedMinutes = *estimated
	}
	extra.apply(&b)
	return &b, nil
}

func (r *RepoPG) Create(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	x := rowOf(b)
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO booking (`+bookingCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32)`,
		b.ID, b.RoomID, b.Department, b.Date, clockToPG(b.Start), clockToPG(b.End),
		b.PatientName, nullable(b.HospitalNumber), b.PatientAge, nullable(b.PatientCategory), b.Procedure, b.Surgeon,
		nullable(b.Anesthesiologist), b.Nurses, b.Equipment, b.EstimatedMinutes, b.ActualStart, b.ActualEnd,
		b.Status, x.isEmergency, x.emergencyReason, x.approvedBy, x.approvedAt,
		x.deniedBy, x.deniedAt, x.denialReason, x.displacedBy, x.displacedAt,
		nullable(b.Notes), b.CreatedBy, b.CreatedAt, b.UpdatedAt)
	return err
}

func (r *RepoPG) Update(ctx context.Context, b *Booking) error {
	x := rowOf(b)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE booking SET date=$2, start_time=$3, end_time=$4, procedure=$5, surgeon=$6,
			anesthesiologist=$7, nurses=$8, equipment=$9, estimated_minutes=$10,
			actual_start=$11, actual_end=$12, status=$13,
			approved_by=$14, approved_at=$15, denied_by=$16, denied_at=$17, denial_reason=$18,
			displaced_by=$19, displaced_at=$20, notes=$21, updated_at=$22
		WHERE id = $1`,
		b.ID, b.Date, clockToPG(b.Start), clockToPG(b.End), b.Procedure, b.Surgeon,
		nullable(b.Anesthesiologist), b.Nurses, b.Equipment, b.EstimatedMinutes,
		b.ActualStart, b.ActualEnd, b.Status,
		x.approvedBy, x.approvedAt, x.deniedBy, x.deniedAt, x.denialReason,
		x.displacedBy, x.displacedAt, nullable(b.Notes), b.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.conn(ctx).QueryRow(ctx, `SELECT `+bookingCols+` FROM booking WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *RepoPG) List(ctx context.Context, f Filter) ([]*Booking, error) {
	query, args := listQuery(f)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func listQuery(f Filter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Date != nil {
		add("date = $%d", Day(*f.Date))
	}
	if f.From != nil {
		add("date >= $%d", Day(*f.From))
	}
	if f.To != nil {
		add("date <= $%d", Day(*f.To))
	}
	if f.RoomID != nil {
		add("room_id = $%d", *f.RoomID)
	}
	if f.Department != "" {
		add("department = $%d", strings.ToUpper(f.Department))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.CreatedBy != "" {
		add("created_by = $%d", f.CreatedBy)
	}

	query := `SELECT ` + bookingCols + ` FROM booking`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, start_time, created_at, id"
	return query, args
}

// WriteBatch applies every change in one transaction.
func (r *RepoPG) WriteBatch(ctx context.Context, changes []Change) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		for _, c := range changes {
			var err error
			if c.IsCreate() {
				err = r.Create(ctx, c.After)
			} else {
				err = r.Update(ctx, c.After)
			}
			if err != nil {
				return fmt.Errorf("write booking %s: %w", c.After.ID, err)
			}
		}
		return nil
	})
}
