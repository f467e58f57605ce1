package appointment

import "errors"

// Error kinds. Every specific error below wraps exactly one of them so the
// transport layer can map by kind with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	ErrUserNotFound        = newError(ErrNotFound, "user not found")
	ErrProviderNotFound    = newError(ErrNotFound, "provider not found")
	ErrSlotNotFound        = newError(ErrNotFound, "slot not found")
	ErrAppointmentNotFound = newError(ErrNotFound, "appointment not found")

	ErrSlotProviderMismatch       = newError(ErrValidation, "slot does not belong to the specified provider")
	ErrSlotInPast                 = newError(ErrValidation, "slot start time is in the past")
	ErrSameSlot                   = newError(ErrValidation, "cannot reschedule to the same slot")
	ErrRescheduleProviderMismatch = newError(ErrValidation, "new slot must be with the same provider")
	ErrNotAProvider               = newError(ErrValidation, "user is not a provider")

	ErrNotAppointmentOwner = newError(ErrForbidden, "caller does not own this appointment")
	ErrNotSlotOwner        = newError(ErrForbidden, "caller does not own this slot")

	ErrAlreadyCancelled = newError(ErrConflict, "appointment is already cancelled")
	ErrAlreadyQueued    = newError(ErrConflict, "already in the queue for this slot")
	ErrAlreadyBooked    = newError(ErrConflict, "already holding this slot")
	ErrSlotOverlap      = newError(ErrConflict, "slot overlaps an existing slot for this provider")
	ErrSlotInUse        = newError(ErrConflict, "slot is booked or has active appointments")
	ErrAppointmentMoved = newError(ErrConflict, "appointment changed concurrently, please retry")
)

// ErrSlotBusy means the slot lock could not be taken in time. It is not a
// client mistake; callers may retry.
var ErrSlotBusy = errors.New("slot is currently being updated, please retry")

// Reason returns the client-facing message of the domain error in err's
// chain, dropping any wrapping context added on the way up.
func Reason(err error) string {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.msg
	}
	return err.Error()
}
