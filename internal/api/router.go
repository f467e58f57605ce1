package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-waitlist-scheduling/internal/appointment"
	"github.com/hackgods/slot-waitlist-scheduling/internal/metrics"
	"github.com/hackgods/slot-waitlist-scheduling/internal/stats"
)

// BookingService is the subset of the booking engine the HTTP layer uses.
type BookingService interface {
	Book(ctx context.Context, userID, providerID, slotID uuid.UUID) (*appointment.BookingResult, error)
	Cancel(ctx context.Context, appointmentID, callerID uuid.UUID) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, appointmentID, newSlotID, callerID uuid.UUID) (*appointment.BookingResult, error)
	Promote(ctx context.Context, slotID uuid.UUID) (bool, error)

	CreateSlot(ctx context.Context, providerID uuid.UUID, start time.Time) (*appointment.Slot, error)
	DeleteSlot(ctx context.Context, slotID, providerID uuid.UUID) error
	GetSlot(ctx context.Context, slotID uuid.UUID) (*appointment.SlotView, error)
	ListAvailableSlots(ctx context.Context, providerID *uuid.UUID) ([]appointment.Slot, error)
	ListProviderSlots(ctx context.Context, providerID uuid.UUID) ([]appointment.SlotView, error)
	ListUserAppointments(ctx context.Context, userID uuid.UUID) ([]appointment.AppointmentDetail, error)
	ListProviderAppointments(ctx context.Context, providerID uuid.UUID) ([]appointment.AppointmentDetail, error)
}

type StatsService interface {
	Get(ctx context.Context) (*stats.Dashboard, error)
}

type RouterConfig struct {
	Service      BookingService
	Stats        StatsService
	Tokens       TokenValidator
	Metrics      *metrics.Collector
	Logger       *zap.Logger
	Limiter      *RateLimiter
	PostgresPing PingFunc
	RedisPing    PingFunc
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	log := cfg.Logger

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	health := NewHealthHandler(cfg.PostgresPing, cfg.RedisPing, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(RateLimitMiddleware(cfg.Limiter))
		}
		r.Use(AuthMiddleware(cfg.Tokens))

		r.Get("/slots", listAvailableSlotsHandler(cfg.Service, log))
		r.Get("/slots/{id}", getSlotHandler(cfg.Service, log))

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(appointment.RoleUser))
			r.Post("/appointments", bookHandler(cfg.Service, log))
			r.Get("/appointments", listUserAppointmentsHandler(cfg.Service, log))
			r.Delete("/appointments/{id}", cancelHandler(cfg.Service, log))
			r.Post("/appointments/{id}/reschedule", rescheduleHandler(cfg.Service, log))
		})

		r.Route("/provider", func(r chi.Router) {
			r.Use(RequireRole(appointment.RoleProvider))
			r.Post("/slots", createSlotHandler(cfg.Service, log))
			r.Get("/slots", listProviderSlotsHandler(cfg.Service, log))
			r.Delete("/slots/{id}", deleteSlotHandler(cfg.Service, log))
			r.Get("/appointments", listProviderAppointmentsHandler(cfg.Service, log))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireRole(appointment.RoleAdmin))
			r.Get("/stats", statsHandler(cfg.Stats, log))
			r.Post("/slots/{id}/promote", promoteHandler(cfg.Service, log))
		})
	})

	return r
}
