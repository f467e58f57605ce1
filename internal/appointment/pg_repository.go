package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/slot-waitlist-scheduling/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const (
	userCols        = `id, name, email, role, specialization, created_at, updated_at`
	slotCols        = `id, provider_id, start_time, end_time, booked, created_at, updated_at`
	appointmentCols = `id, user_id, provider_id, slot_id, status, created_at, updated_at`
)

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var specialization *string

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&specialization,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Specialization = specialization
	return &u, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.StartTime,
		&s.EndTime,
		&s.Booked,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.ProviderID,
		&a.SlotID,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Users

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// Slots

func (r *PgRepository) CreateSlot(ctx context.Context, providerID uuid.UUID, start time.Time) (*Slot, error) {
	q := r.conn(ctx)
	end := start.Add(SlotDuration)

	// serialize slot creation per provider so the overlap check below holds
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, providerID.String()); err != nil {
		return nil, fmt.Errorf("lock provider slots: %w", err)
	}

	var overlap bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM slots
			WHERE provider_id = $1
			  AND start_time < $3
			  AND end_time > $2
		)
	`, providerID, start, end).Scan(&overlap)
	if err != nil {
		return nil, fmt.Errorf("check slot overlap: %w", err)
	}
	if overlap {
		return nil, ErrSlotOverlap
	}

	row := q.QueryRow(ctx, `
		INSERT INTO slots (id, provider_id, start_time, end_time, booked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, now(), now())
		RETURNING `+slotCols, uuid.New(), providerID, start, end)

	return scanSlot(row)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM slots WHERE id = $1 FOR UPDATE`, id)
	return scanSlot(row)
}

func (r *PgRepository) SetSlotBooked(ctx context.Context, id uuid.UUID, booked bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slots SET booked = $2, updated_at = now() WHERE id = $1
	`, id, booked)
	if err != nil {
		return fmt.Errorf("set slot booked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	q := r.conn(ctx)

	tag, err := q.Exec(ctx, `
		DELETE FROM slots
		WHERE id = $1
		  AND NOT booked
		  AND NOT EXISTS (
			SELECT 1 FROM appointments
			WHERE slot_id = $1 AND status <> 'CANCELLED'
		  )
	`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.GetSlotByID(ctx, id); err != nil {
		return err
	}
	return ErrSlotInUse
}

func (r *PgRepository) ListSlotsByProvider(ctx context.Context, providerID uuid.UUID) ([]Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE provider_id = $1
		ORDER BY start_time
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("list provider slots: %w", err)
	}
	return collectSlots(rows)
}

func (r *PgRepository) ListUnbookedSlots(ctx context.Context, providerID *uuid.UUID, from time.Time) ([]Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE NOT booked
		  AND start_time > $1
		  AND ($2::uuid IS NULL OR provider_id = $2)
		ORDER BY start_time
	`, from, providerID)
	if err != nil {
		return nil, fmt.Errorf("list unbooked slots: %w", err)
	}
	return collectSlots(rows)
}

func (r *PgRepository) ListExpiredUnbookedSlots(ctx context.Context, before time.Time) ([]Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE NOT booked AND end_time < $1
		ORDER BY end_time
	`, before)
	if err != nil {
		return nil, fmt.Errorf("list expired slots: %w", err)
	}
	return collectSlots(rows)
}

func (r *PgRepository) DeleteExpiredUnbookedSlots(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM slots
		WHERE NOT booked
		  AND end_time < $1
		  AND NOT EXISTS (
			SELECT 1 FROM appointments
			WHERE slot_id = slots.id AND status <> 'CANCELLED'
		  )
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Appointments

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, user_id, provider_id, slot_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+appointmentCols, a.ID, a.UserID, a.ProviderID, a.SlotID, a.Status)

	created, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrAlreadyBooked
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	*a = *created
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    slot_id = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentCols, a.ID, a.Status, a.SlotID)

	updated, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrAlreadyBooked
		}
		return err
	}
	*a = *updated
	return nil
}

const detailQuery = `
	SELECT a.id, a.user_id, a.provider_id, a.slot_id, a.status, a.created_at, a.updated_at,
	       s.start_time, s.end_time, u.name, p.name, p.specialization
	FROM appointments a
	JOIN slots s ON s.id = a.slot_id
	JOIN users u ON u.id = a.user_id
	JOIN users p ON p.id = a.provider_id
`

func (r *PgRepository) listDetails(ctx context.Context, where string, arg any) ([]AppointmentDetail, error) {
	rows, err := r.conn(ctx).Query(ctx, detailQuery+where+` ORDER BY s.start_time`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		var d AppointmentDetail
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.ProviderID, &d.SlotID, &d.Status, &d.CreatedAt, &d.UpdatedAt,
			&d.StartTime, &d.EndTime, &d.UserName, &d.ProviderName, &d.Specialization,
		); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListAppointmentsByUser(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	result, err := r.listDetails(ctx, `WHERE a.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user appointments: %w", err)
	}
	return result, nil
}

func (r *PgRepository) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID) ([]AppointmentDetail, error) {
	result, err := r.listDetails(ctx, `WHERE a.provider_id = $1`, providerID)
	if err != nil {
		return nil, fmt.Errorf("list provider appointments: %w", err)
	}
	return result, nil
}

func (r *PgRepository) ListAppointmentsByStatus(ctx context.Context, status AppointmentStatus) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE status = $1
		ORDER BY created_at
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list appointments by status: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) FindByUserAndSlotAndStatus(ctx context.Context, userID, slotID uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE user_id = $1 AND slot_id = $2 AND status = $3
		ORDER BY created_at
		LIMIT 1
	`, userID, slotID, status)
	return scanAppointment(row)
}

func (r *PgRepository) FindActiveByUserAndSlot(ctx context.Context, userID, slotID uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE user_id = $1 AND slot_id = $2 AND status <> 'CANCELLED'
	`, userID, slotID)
	return scanAppointment(row)
}

func (r *PgRepository) FindBookedForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE slot_id = $1 AND status = 'BOOKED'
	`, slotID)
	return scanAppointment(row)
}

func (r *PgRepository) DeleteAppointmentsByStatus(ctx context.Context, status AppointmentStatus) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE status = $1`, status)
	if err != nil {
		return 0, fmt.Errorf("delete appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}
