package appointment

import (
	"time"

	"github.com/google/uuid"
)

// SlotDuration is the fixed length of every bookable slot.
const SlotDuration = time.Hour

type AppointmentStatus string

// Transitions per (user, slot):
//
//	none   → BOOKED | QUEUED
//	QUEUED → BOOKED     (promotion, same row)
//	BOOKED → CANCELLED
//	QUEUED → CANCELLED
//	BOOKED → BOOKED | QUEUED on another slot (reschedule)
//
// CANCELLED is terminal.
const (
	StatusBooked    AppointmentStatus = "BOOKED"
	StatusQueued    AppointmentStatus = "QUEUED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

type Role string

const (
	RoleUser     Role = "user"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID             uuid.UUID
	Name           string
	Email          string
	Role           Role
	Specialization *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Slot struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Booked     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Appointment struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ProviderID uuid.UUID
	SlotID     uuid.UUID
	Status     AppointmentStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AppointmentDetail is an appointment joined with the slot and the names of
// both parties, as shown to callers.
type AppointmentDetail struct {
	Appointment
	StartTime      time.Time
	EndTime        time.Time
	UserName       string
	ProviderName   string
	Specialization *string
}

// SlotView is a slot together with its current waitlist length.
type SlotView struct {
	Slot
	QueueSize int64
}

type BookingStatus string

const (
	BookingBooked        BookingStatus = "BOOKED"
	BookingQueued        BookingStatus = "QUEUED"
	BookingAlreadyQueued BookingStatus = "ALREADY_QUEUED"
)

type BookingResult struct {
	Status       BookingStatus
	Message      string
	Appointment  *Appointment
	QueuedSlotID *uuid.UUID
}
