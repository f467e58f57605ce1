package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type UserRepository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
}

type SlotRepository interface {
	// CreateSlot inserts a one hour slot, failing with ErrSlotOverlap when the
	// provider already has a slot intersecting [start, start+1h). Must run
	// inside a transaction.
	CreateSlot(ctx context.Context, providerID uuid.UUID, start time.Time) (*Slot, error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// GetSlotForUpdate row-locks the slot until the surrounding transaction ends.
	GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error)
	SetSlotBooked(ctx context.Context, id uuid.UUID, booked bool) error
	// DeleteSlot fails with ErrSlotInUse while a non-cancelled appointment
	// references the slot.
	DeleteSlot(ctx context.Context, id uuid.UUID) error

	ListSlotsByProvider(ctx context.Context, providerID uuid.UUID) ([]Slot, error)
	// ListUnbookedSlots returns unbooked slots starting after from. A nil
	// providerID lists every provider.
	ListUnbookedSlots(ctx context.Context, providerID *uuid.UUID, from time.Time) ([]Slot, error)
	ListExpiredUnbookedSlots(ctx context.Context, before time.Time) ([]Slot, error)
	DeleteExpiredUnbookedSlots(ctx context.Context, before time.Time) (int64, error)
}

type AppointmentRepository interface {
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateAppointment persists status and slot_id and bumps updated_at.
	UpdateAppointment(ctx context.Context, a *Appointment) error

	ListAppointmentsByUser(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error)
	ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID) ([]AppointmentDetail, error)
	ListAppointmentsByStatus(ctx context.Context, status AppointmentStatus) ([]Appointment, error)

	// Lookups used by the state machine. All return ErrAppointmentNotFound
	// when nothing matches.
	FindByUserAndSlotAndStatus(ctx context.Context, userID, slotID uuid.UUID, status AppointmentStatus) (*Appointment, error)
	FindActiveByUserAndSlot(ctx context.Context, userID, slotID uuid.UUID) (*Appointment, error)
	FindBookedForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error)

	DeleteAppointmentsByStatus(ctx context.Context, status AppointmentStatus) (int64, error)
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	UserRepository
	SlotRepository
	AppointmentRepository
}

// TxManager runs fn atomically; repository calls made with the context
// passed to fn join the transaction.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
