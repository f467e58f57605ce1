package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateSlot publishes a one hour slot starting at start for providerID.
func (s *Service) CreateSlot(ctx context.Context, providerID uuid.UUID, start time.Time) (*Slot, error) {
	provider, err := s.loadProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if provider.Role != RoleProvider {
		return nil, ErrNotAProvider
	}

	start = start.UTC().Truncate(time.Second)
	if !start.After(s.now()) {
		return nil, ErrSlotInPast
	}

	var slot *Slot
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		created, err := s.repo.CreateSlot(ctx, providerID, start)
		if err != nil {
			return err
		}
		slot = created
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSlotOverlap) {
			return nil, err
		}
		return nil, fmt.Errorf("create slot: %w", err)
	}

	s.log.Info("slot created",
		zap.String("slot_id", slot.ID.String()),
		zap.String("provider_id", providerID.String()),
		zap.Time("start_time", slot.StartTime),
	)
	return slot, nil
}

// DeleteSlot removes an unbooked slot owned by providerID.
func (s *Service) DeleteSlot(ctx context.Context, slotID, providerID uuid.UUID) error {
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return fmt.Errorf("load slot: %w", err)
	}
	if slot.ProviderID != providerID {
		return ErrNotSlotOwner
	}

	err = s.run(ctx, "delete_slot", []uuid.UUID{slotID}, func(ctx context.Context, uow *unitOfWork) error {
		slot, err := s.repo.GetSlotForUpdate(ctx, slotID)
		if err != nil {
			return fmt.Errorf("lock slot: %w", err)
		}
		if slot.Booked {
			return ErrSlotInUse
		}
		if err := s.repo.DeleteSlot(ctx, slotID); err != nil {
			return err
		}
		// anything left here is dead: the slot had no live claims
		if err := s.queue.Clear(ctx, slotID); err != nil {
			return fmt.Errorf("clear waitlist: %w", err)
		}
		uow.changed = true
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("slot deleted",
		zap.String("slot_id", slotID.String()),
		zap.String("provider_id", providerID.String()),
	)
	return nil
}

// GetSlot returns the slot with its current waitlist length.
func (s *Service) GetSlot(ctx context.Context, slotID uuid.UUID) (*SlotView, error) {
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	size, err := s.queue.Size(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("waitlist size: %w", err)
	}
	return &SlotView{Slot: *slot, QueueSize: size}, nil
}

// ListAvailableSlots lists unbooked future slots, optionally for one
// provider only.
func (s *Service) ListAvailableSlots(ctx context.Context, providerID *uuid.UUID) ([]Slot, error) {
	slots, err := s.repo.ListUnbookedSlots(ctx, providerID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

func (s *Service) ListProviderSlots(ctx context.Context, providerID uuid.UUID) ([]SlotView, error) {
	slots, err := s.repo.ListSlotsByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("list provider slots: %w", err)
	}

	views := make([]SlotView, 0, len(slots))
	for _, slot := range slots {
		var size int64
		if slot.Booked {
			size, err = s.queue.Size(ctx, slot.ID)
			if err != nil {
				return nil, fmt.Errorf("waitlist size: %w", err)
			}
		}
		views = append(views, SlotView{Slot: slot, QueueSize: size})
	}
	return views, nil
}

func (s *Service) ListUserAppointments(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	return s.repo.ListAppointmentsByUser(ctx, userID)
}

func (s *Service) ListProviderAppointments(ctx context.Context, providerID uuid.UUID) ([]AppointmentDetail, error) {
	return s.repo.ListAppointmentsByProvider(ctx, providerID)
}
