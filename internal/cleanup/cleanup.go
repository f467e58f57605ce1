// Package cleanup removes records that can no longer take part in booking:
// cancelled appointments and unbooked slots that have already ended.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/slot-waitlist-scheduling/internal/appointment"
)

// Repository is the read/delete subset of the appointment store the job
// needs. It never touches waitlists.
type Repository interface {
	DeleteAppointmentsByStatus(ctx context.Context, status appointment.AppointmentStatus) (int64, error)
	DeleteExpiredUnbookedSlots(ctx context.Context, before time.Time) (int64, error)
}

type Result struct {
	CancelledAppointments int64
	ExpiredSlots          int64
}

type Service struct {
	repo    Repository
	log     *zap.Logger
	now     func() time.Time
	onClean func(ctx context.Context)
}

// NewService builds the job. onClean, when not nil, runs after a pass that
// deleted anything.
func NewService(repo Repository, onClean func(ctx context.Context), log *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		log:     log,
		now:     time.Now,
		onClean: onClean,
	}
}

// Run performs one pass. Cancelled appointments go first so a slot whose
// only claims were cancelled can be removed in the same pass.
func (s *Service) Run(ctx context.Context) (Result, error) {
	var res Result

	n, err := s.repo.DeleteAppointmentsByStatus(ctx, appointment.StatusCancelled)
	if err != nil {
		return res, fmt.Errorf("delete cancelled appointments: %w", err)
	}
	res.CancelledAppointments = n

	n, err = s.repo.DeleteExpiredUnbookedSlots(ctx, s.now())
	if err != nil {
		return res, fmt.Errorf("delete expired slots: %w", err)
	}
	res.ExpiredSlots = n

	if s.onClean != nil && (res.CancelledAppointments > 0 || res.ExpiredSlots > 0) {
		s.onClean(ctx)
	}

	s.log.Info("cleanup pass complete",
		zap.Int64("cancelled_appointments", res.CancelledAppointments),
		zap.Int64("expired_slots", res.ExpiredSlots),
	)
	return res, nil
}
