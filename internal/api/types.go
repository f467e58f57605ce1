package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-waitlist-scheduling/internal/appointment"
)

type BookRequest struct {
	ProviderID string `json:"provider_id"`
	SlotID     string `json:"slot_id"`
}

type RescheduleRequest struct {
	NewSlotID string `json:"new_slot_id"`
}

type CreateSlotRequest struct {
	StartTime time.Time `json:"start_time"`
}

type AppointmentResponse struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	ProviderID uuid.UUID `json:"provider_id"`
	SlotID     uuid.UUID `json:"slot_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	UserName       string    `json:"user_name"`
	ProviderName   string    `json:"provider_name"`
	Specialization *string   `json:"specialization,omitempty"`
}

type BookingResponse struct {
	Status       string               `json:"status"`
	Message      string               `json:"message"`
	Appointment  *AppointmentResponse `json:"appointment,omitempty"`
	QueuedSlotID *uuid.UUID           `json:"queued_slot_id,omitempty"`
}

type SlotResponse struct {
	ID         uuid.UUID `json:"id"`
	ProviderID uuid.UUID `json:"provider_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Booked     bool      `json:"booked"`
	QueueSize  *int64    `json:"queue_size,omitempty"`
}

type PromoteResponse struct {
	SlotID uuid.UUID `json:"slot_id"`
	Booked bool      `json:"booked"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) *AppointmentResponse {
	if a == nil {
		return nil
	}
	return &AppointmentResponse{
		ID:         a.ID,
		UserID:     a.UserID,
		ProviderID: a.ProviderID,
		SlotID:     a.SlotID,
		Status:     string(a.Status),
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func toDetailResponses(list []appointment.AppointmentDetail) []AppointmentDetailResponse {
	out := make([]AppointmentDetailResponse, 0, len(list))
	for i := range list {
		d := list[i]
		out = append(out, AppointmentDetailResponse{
			AppointmentResponse: *toAppointmentResponse(&d.Appointment),
			StartTime:           d.StartTime,
			EndTime:             d.EndTime,
			UserName:            d.UserName,
			ProviderName:        d.ProviderName,
			Specialization:      d.Specialization,
		})
	}
	return out
}

func toBookingResponse(res *appointment.BookingResult) BookingResponse {
	return BookingResponse{
		Status:       string(res.Status),
		Message:      res.Message,
		Appointment:  toAppointmentResponse(res.Appointment),
		QueuedSlotID: res.QueuedSlotID,
	}
}

func toSlotResponse(s appointment.Slot) SlotResponse {
	return SlotResponse{
		ID:         s.ID,
		ProviderID: s.ProviderID,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		Booked:     s.Booked,
	}
}

func toSlotViewResponse(v appointment.SlotView) SlotResponse {
	resp := toSlotResponse(v.Slot)
	size := v.QueueSize
	resp.QueueSize = &size
	return resp
}
