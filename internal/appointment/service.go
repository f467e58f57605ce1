package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-waitlist-scheduling/internal/metrics"
	"github.com/hackgods/slot-waitlist-scheduling/internal/notify"
	redisclient "github.com/hackgods/slot-waitlist-scheduling/internal/redis"
	"github.com/hackgods/slot-waitlist-scheduling/internal/waitlist"
)

// Notifier accepts notifications for asynchronous delivery.
type Notifier interface {
	Enqueue(n notify.Notification)
}

// CommitHook runs after an operation that changed booking state commits.
type CommitHook func(ctx context.Context)

type Service struct {
	repo     Repository
	tx       TxManager
	queue    waitlist.Queue
	locker   redisclient.Locker
	notifier Notifier
	metrics  *metrics.Collector
	log      *zap.Logger

	now   func() time.Time
	hooks []CommitHook
}

func NewService(
	repo Repository,
	tx TxManager,
	queue waitlist.Queue,
	locker redisclient.Locker,
	notifier Notifier,
	m *metrics.Collector,
	log *zap.Logger,
) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		queue:    queue,
		locker:   locker,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// OnCommit registers a hook run after every committed state change. Hooks
// are not run for failed or no-op operations.
func (s *Service) OnCommit(h CommitHook) {
	s.hooks = append(s.hooks, h)
}

// unitOfWork collects what an operation wants to happen once it commits,
// and how to undo the waitlist changes it made if it does not.
type unitOfWork struct {
	notes      []notify.Notification
	undo       []func(ctx context.Context) error
	changed    bool
	promotions int
	dead       int
}

func (u *unitOfWork) notify(n ...notify.Notification) {
	u.notes = append(u.notes, n...)
}

func (u *unitOfWork) onAbort(fn func(ctx context.Context) error) {
	u.undo = append(u.undo, fn)
}

// run executes fn under the locks of every slot it touches and inside one
// transaction. Notifications and commit hooks fire only after commit.
func (s *Service) run(ctx context.Context, op string, slotIDs []uuid.UUID, fn func(ctx context.Context, uow *unitOfWork) error) error {
	uow := &unitOfWork{}

	err := s.locker.WithSlotLocks(ctx, slotIDs, func(lockCtx context.Context) error {
		err := s.tx.WithinTx(lockCtx, func(txCtx context.Context) error {
			return fn(txCtx, uow)
		})
		if err != nil {
			// still under the lock, so nobody has seen the queue changes
			s.compensate(lockCtx, op, uow)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			s.metrics.SlotLockContention.Inc()
			return ErrSlotBusy
		}
		return err
	}

	s.metrics.PromotionsTotal.Add(float64(uow.promotions))
	s.metrics.DeadWaitlistEntries.Add(float64(uow.dead))

	for _, n := range uow.notes {
		s.notifier.Enqueue(n)
	}

	if uow.changed {
		hookCtx := context.WithoutCancel(ctx)
		for _, h := range s.hooks {
			h(hookCtx)
		}
	}
	return nil
}

func (s *Service) compensate(ctx context.Context, op string, uow *unitOfWork) {
	ctx = context.WithoutCancel(ctx)
	for i := len(uow.undo) - 1; i >= 0; i-- {
		if err := uow.undo[i](ctx); err != nil {
			s.metrics.CompensationFailures.Inc()
			s.log.Error("failed to undo waitlist change",
				zap.String("op", op),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) enqueue(ctx context.Context, uow *unitOfWork, slotID, userID uuid.UUID) error {
	if err := s.queue.Push(ctx, slotID, userID); err != nil {
		return fmt.Errorf("push waitlist: %w", err)
	}
	uow.onAbort(func(ctx context.Context) error {
		_, err := s.queue.Remove(ctx, slotID, userID)
		return err
	})
	return nil
}

// dequeue drops every waitlist entry of userID on slotID.
func (s *Service) dequeue(ctx context.Context, uow *unitOfWork, slotID, userID uuid.UUID) error {
	n, err := s.queue.Remove(ctx, slotID, userID)
	if err != nil {
		return fmt.Errorf("remove from waitlist: %w", err)
	}
	if n > 0 {
		// the original position is lost on undo; the user goes to the tail
		uow.onAbort(func(ctx context.Context) error {
			return s.queue.Push(ctx, slotID, userID)
		})
	}
	return nil
}

func (s *Service) loadUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func (s *Service) loadProvider(ctx context.Context, id uuid.UUID) (*User, error) {
	p, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	return p, nil
}

// activeClaim returns the user's non-cancelled appointment on the slot, or
// nil when there is none.
func (s *Service) activeClaim(ctx context.Context, userID, slotID uuid.UUID) (*Appointment, error) {
	a, err := s.repo.FindActiveByUserAndSlot(ctx, userID, slotID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active appointment: %w", err)
	}
	return a, nil
}

// Book claims slotID for userID, or puts the user on the slot's waitlist
// when somebody already holds it.
func (s *Service) Book(ctx context.Context, userID, providerID, slotID uuid.UUID) (*BookingResult, error) {
	res, err := s.book(ctx, userID, providerID, slotID)
	if err != nil {
		s.metrics.BookingsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	s.metrics.BookingsTotal.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}

func (s *Service) book(ctx context.Context, userID, providerID, slotID uuid.UUID) (*BookingResult, error) {
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if slot.ProviderID != providerID {
		return nil, ErrSlotProviderMismatch
	}
	if !slot.StartTime.After(s.now()) {
		return nil, ErrSlotInPast
	}

	var res *BookingResult

	err = s.run(ctx, "book", []uuid.UUID{slotID}, func(ctx context.Context, uow *unitOfWork) error {
		slot, err := s.repo.GetSlotForUpdate(ctx, slotID)
		if err != nil {
			return fmt.Errorf("lock slot: %w", err)
		}
		user, err := s.loadUser(ctx, userID)
		if err != nil {
			return err
		}
		provider, err := s.loadProvider(ctx, slot.ProviderID)
		if err != nil {
			return err
		}

		existing, err := s.activeClaim(ctx, userID, slotID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == StatusBooked {
			return ErrAlreadyBooked
		}

		if !slot.Booked {
			appt := existing
			if appt != nil {
				// a queued claim on a free slot: take it over in place
				appt.Status = StatusBooked
				if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
					return fmt.Errorf("book queued appointment: %w", err)
				}
				if err := s.dequeue(ctx, uow, slotID, userID); err != nil {
					return err
				}
			} else {
				appt = &Appointment{
					UserID:     userID,
					ProviderID: slot.ProviderID,
					SlotID:     slotID,
					Status:     StatusBooked,
				}
				if err := s.repo.CreateAppointment(ctx, appt); err != nil {
					return fmt.Errorf("create appointment: %w", err)
				}
			}
			if err := s.repo.SetSlotBooked(ctx, slotID, true); err != nil {
				return err
			}

			uow.changed = true
			uow.notify(msgBookedUser(user, provider, slot), msgBookedProvider(user, provider, slot))
			res = &BookingResult{
				Status:      BookingBooked,
				Message:     "Slot booked successfully",
				Appointment: appt,
			}
			return nil
		}

		queued, err := s.queue.Contains(ctx, slotID, userID)
		if err != nil {
			return fmt.Errorf("check waitlist: %w", err)
		}
		if !queued && existing != nil {
			// claim without a waitlist entry, put the entry back
			if err := s.enqueue(ctx, uow, slotID, userID); err != nil {
				return err
			}
			queued = true
		}
		if queued {
			res = &BookingResult{
				Status:       BookingAlreadyQueued,
				Message:      "You are already in the waiting list for this slot",
				Appointment:  existing,
				QueuedSlotID: &slotID,
			}
			return nil
		}

		if err := s.enqueue(ctx, uow, slotID, userID); err != nil {
			return err
		}
		appt := &Appointment{
			UserID:     userID,
			ProviderID: slot.ProviderID,
			SlotID:     slotID,
			Status:     StatusQueued,
		}
		if err := s.repo.CreateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("create queued appointment: %w", err)
		}

		uow.changed = true
		uow.notify(msgQueuedUser(user, provider, slot), msgQueuedProvider(user, provider, slot))
		res = &BookingResult{
			Status:       BookingQueued,
			Message:      "Slot is booked, you have been added to the waiting list",
			Appointment:  appt,
			QueuedSlotID: &slotID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("booking processed",
		zap.String("status", string(res.Status)),
		zap.String("slot_id", slotID.String()),
		zap.String("user_id", userID.String()),
	)
	return res, nil
}

// Cancel cancels the caller's appointment. When the appointment held the
// slot, the slot passes to the next live user on its waitlist.
func (s *Service) Cancel(ctx context.Context, appointmentID, callerID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.UserID != callerID {
		return nil, ErrNotAppointmentOwner
	}
	if appt.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	var (
		cancelled *Appointment
		previous  AppointmentStatus
		reopened  bool
	)

	err = s.run(ctx, "cancel", []uuid.UUID{appt.SlotID}, func(ctx context.Context, uow *unitOfWork) error {
		cur, err := s.repo.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return fmt.Errorf("lock appointment: %w", err)
		}
		if cur.SlotID != appt.SlotID {
			return ErrAppointmentMoved
		}
		if cur.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}

		slot, err := s.repo.GetSlotForUpdate(ctx, cur.SlotID)
		if err != nil {
			return fmt.Errorf("lock slot: %w", err)
		}
		user, err := s.loadUser(ctx, cur.UserID)
		if err != nil {
			return err
		}
		provider, err := s.loadProvider(ctx, cur.ProviderID)
		if err != nil {
			return err
		}

		previous = cur.Status
		if previous == StatusQueued {
			if err := s.dequeue(ctx, uow, slot.ID, cur.UserID); err != nil {
				return err
			}
		}

		cur.Status = StatusCancelled
		if err := s.repo.UpdateAppointment(ctx, cur); err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		uow.changed = true
		uow.notify(msgCancelledUser(user, provider, slot))

		if previous == StatusBooked {
			filled, err := s.promote(ctx, uow, slot, provider)
			if err != nil {
				return err
			}
			if !filled {
				reopened = true
				uow.notify(msgSlotReopened(user, provider, slot))
			}
		}

		cancelled = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CancellationsTotal.WithLabelValues(string(previous)).Inc()
	s.log.Info("appointment cancelled",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("previous_status", string(previous)),
		zap.Bool("slot_reopened", reopened),
	)
	return cancelled, nil
}

// Promote re-evaluates who holds slotID: if nobody does, the head of the
// waitlist is booked into it. It reports whether the slot ends up booked.
func (s *Service) Promote(ctx context.Context, slotID uuid.UUID) (bool, error) {
	var filled bool

	err := s.run(ctx, "promote", []uuid.UUID{slotID}, func(ctx context.Context, uow *unitOfWork) error {
		slot, err := s.repo.GetSlotForUpdate(ctx, slotID)
		if err != nil {
			return fmt.Errorf("lock slot: %w", err)
		}
		provider, err := s.loadProvider(ctx, slot.ProviderID)
		if err != nil {
			return err
		}

		wasBooked := slot.Booked
		filled, err = s.promote(ctx, uow, slot, provider)
		if err != nil {
			return err
		}
		uow.changed = wasBooked != filled || uow.promotions > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return filled, nil
}

// promote must run inside run with slot locked. Dead entries, meaning
// malformed ids or users that no longer exist, are discarded. The loop is
// bounded by the queue length seen on entry; the slot lock keeps anybody
// else from pushing meanwhile.
func (s *Service) promote(ctx context.Context, uow *unitOfWork, slot *Slot, provider *User) (bool, error) {
	_, err := s.repo.FindBookedForSlot(ctx, slot.ID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return false, fmt.Errorf("check slot holder: %w", err)
	}

	size, err := s.queue.Size(ctx, slot.ID)
	if err != nil {
		return false, fmt.Errorf("waitlist size: %w", err)
	}

	for attempt := int64(0); attempt <= size; attempt++ {
		entry, ok, err := s.queue.Pop(ctx, slot.ID)
		if err != nil {
			return false, fmt.Errorf("pop waitlist: %w", err)
		}
		if !ok {
			break
		}
		uow.onAbort(func(ctx context.Context) error {
			return s.queue.PushFront(ctx, slot.ID, entry)
		})

		next, err := s.resolveEntry(ctx, entry)
		if err != nil {
			return false, err
		}
		if next == nil {
			uow.dead++
			s.log.Warn("skipping dead waitlist entry",
				zap.String("slot_id", slot.ID.String()),
				zap.String("entry", entry),
			)
			continue
		}

		appt, err := s.repo.FindByUserAndSlotAndStatus(ctx, next.ID, slot.ID, StatusQueued)
		switch {
		case err == nil:
			appt.Status = StatusBooked
			if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
				return false, fmt.Errorf("promote appointment: %w", err)
			}
		case errors.Is(err, ErrAppointmentNotFound):
			appt = &Appointment{
				UserID:     next.ID,
				ProviderID: slot.ProviderID,
				SlotID:     slot.ID,
				Status:     StatusBooked,
			}
			if err := s.repo.CreateAppointment(ctx, appt); err != nil {
				return false, fmt.Errorf("create promoted appointment: %w", err)
			}
		default:
			return false, fmt.Errorf("find queued appointment: %w", err)
		}

		if err := s.repo.SetSlotBooked(ctx, slot.ID, true); err != nil {
			return false, err
		}
		slot.Booked = true

		uow.promotions++
		uow.notify(msgPromotedUser(next, provider, slot), msgPromotedProvider(next, provider, slot))
		s.log.Info("waitlist promotion",
			zap.String("slot_id", slot.ID.String()),
			zap.String("user_id", next.ID.String()),
			zap.String("appointment_id", appt.ID.String()),
		)
		return true, nil
	}

	if err := s.repo.SetSlotBooked(ctx, slot.ID, false); err != nil {
		return false, err
	}
	slot.Booked = false
	return false, nil
}

// resolveEntry returns nil, nil for an entry that no longer names a user.
func (s *Service) resolveEntry(ctx context.Context, entry string) (*User, error) {
	id, err := uuid.Parse(entry)
	if err != nil {
		return nil, nil
	}
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve waitlist entry: %w", err)
	}
	return u, nil
}

// Reschedule moves the caller's appointment to newSlotID with the same
// provider. The old slot is always released for promotion.
func (s *Service) Reschedule(ctx context.Context, appointmentID, newSlotID, callerID uuid.UUID) (*BookingResult, error) {
	res, err := s.reschedule(ctx, appointmentID, newSlotID, callerID)
	if err != nil {
		s.metrics.ReschedulesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	s.metrics.ReschedulesTotal.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}

func (s *Service) reschedule(ctx context.Context, appointmentID, newSlotID, callerID uuid.UUID) (*BookingResult, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.UserID != callerID {
		return nil, ErrNotAppointmentOwner
	}
	if appt.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	newSlot, err := s.repo.GetSlotByID(ctx, newSlotID)
	if err != nil {
		return nil, fmt.Errorf("load new slot: %w", err)
	}
	if !newSlot.StartTime.After(s.now()) {
		return nil, ErrSlotInPast
	}
	if newSlot.ProviderID != appt.ProviderID {
		return nil, ErrRescheduleProviderMismatch
	}
	if newSlotID == appt.SlotID {
		return nil, ErrSameSlot
	}

	oldSlotID := appt.SlotID
	var res *BookingResult

	err = s.run(ctx, "reschedule", []uuid.UUID{oldSlotID, newSlotID}, func(ctx context.Context, uow *unitOfWork) error {
		cur, err := s.repo.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return fmt.Errorf("lock appointment: %w", err)
		}
		if cur.SlotID != oldSlotID {
			return ErrAppointmentMoved
		}
		if cur.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}

		oldSlot, err := s.repo.GetSlotForUpdate(ctx, oldSlotID)
		if err != nil {
			return fmt.Errorf("lock old slot: %w", err)
		}
		target, err := s.repo.GetSlotForUpdate(ctx, newSlotID)
		if err != nil {
			return fmt.Errorf("lock new slot: %w", err)
		}
		user, err := s.loadUser(ctx, cur.UserID)
		if err != nil {
			return err
		}
		provider, err := s.loadProvider(ctx, cur.ProviderID)
		if err != nil {
			return err
		}

		other, err := s.activeClaim(ctx, cur.UserID, newSlotID)
		if err != nil {
			return err
		}
		if other != nil {
			if other.Status == StatusBooked {
				return ErrAlreadyBooked
			}
			return ErrAlreadyQueued
		}
		if target.Booked {
			queued, err := s.queue.Contains(ctx, newSlotID, cur.UserID)
			if err != nil {
				return fmt.Errorf("check waitlist: %w", err)
			}
			if queued {
				return ErrAlreadyQueued
			}
		}

		if err := s.dequeue(ctx, uow, oldSlotID, cur.UserID); err != nil {
			return err
		}

		cur.SlotID = newSlotID
		if target.Booked {
			cur.Status = StatusQueued
			if err := s.enqueue(ctx, uow, newSlotID, cur.UserID); err != nil {
				return err
			}
		} else {
			cur.Status = StatusBooked
		}
		if err := s.repo.UpdateAppointment(ctx, cur); err != nil {
			return fmt.Errorf("move appointment: %w", err)
		}
		if cur.Status == StatusBooked {
			if err := s.repo.SetSlotBooked(ctx, newSlotID, true); err != nil {
				return err
			}
			target.Booked = true
		}

		// the appointment has left the old slot, so promote sees it free
		// unless somebody else was holding it
		if _, err := s.promote(ctx, uow, oldSlot, provider); err != nil {
			return err
		}

		uow.changed = true
		if cur.Status == StatusBooked {
			uow.notify(
				msgRescheduledUser(user, provider, oldSlot, target),
				msgRescheduledProvider(user, provider, oldSlot, target),
			)
			res = &BookingResult{
				Status:      BookingBooked,
				Message:     "Appointment rescheduled successfully",
				Appointment: cur,
			}
		} else {
			uow.notify(
				msgRescheduleQueuedUser(user, provider, target),
				msgRescheduleQueuedProvider(user, provider, oldSlot, target),
			)
			res = &BookingResult{
				Status:       BookingQueued,
				Message:      "New slot is booked, you have been added to its waiting list",
				Appointment:  cur,
				QueuedSlotID: &newSlotID,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment rescheduled",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("from_slot_id", oldSlotID.String()),
		zap.String("to_slot_id", newSlotID.String()),
		zap.String("status", string(res.Status)),
	)
	return res, nil
}
