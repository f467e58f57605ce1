package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-waitlist-scheduling/internal/appointment"
)

func caller(r *http.Request) uuid.UUID {
	id, _ := GetIdentity(r.Context())
	return id.UserID
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func bookHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}
		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		res, err := svc.Book(r.Context(), caller(r), providerID, slotID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, bookingStatusCode(res.Status), toBookingResponse(res))
	}
}

func bookingStatusCode(s appointment.BookingStatus) int {
	switch s {
	case appointment.BookingBooked:
		return http.StatusCreated
	case appointment.BookingQueued:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

func cancelHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Cancel(r.Context(), id, caller(r))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		newSlotID, err := uuid.Parse(req.NewSlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "new_slot_id must be a valid UUID")
			return
		}

		res, err := svc.Reschedule(r.Context(), id, newSlotID, caller(r))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(res))
	}
}

func listUserAppointmentsHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListUserAppointments(r.Context(), caller(r))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toDetailResponses(list))
	}
}

func listAvailableSlotsHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var providerID *uuid.UUID
		if raw := r.URL.Query().Get("provider_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
				return
			}
			providerID = &id
		}

		slots, err := svc.ListAvailableSlots(r.Context(), providerID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, toSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getSlotHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		view, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotViewResponse(*view))
	}
}

func createSlotHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "start_time must be an RFC 3339 timestamp")
			return
		}
		if req.StartTime.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time is required")
			return
		}

		slot, err := svc.CreateSlot(r.Context(), caller(r), req.StartTime)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSlotResponse(*slot))
	}
}

func deleteSlotHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		if err := svc.DeleteSlot(r.Context(), id, caller(r)); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listProviderSlotsHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := svc.ListProviderSlots(r.Context(), caller(r))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		out := make([]SlotResponse, 0, len(views))
		for _, v := range views {
			out = append(out, toSlotViewResponse(v))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listProviderAppointmentsHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListProviderAppointments(r.Context(), caller(r))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toDetailResponses(list))
	}
}

func statsHandler(svc StatsService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Get(r.Context())
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func promoteHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		booked, err := svc.Promote(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, PromoteResponse{SlotID: id, Booked: booked})
	}
}
