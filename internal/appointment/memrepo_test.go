package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository enforcing the same uniqueness rules as
// the Postgres schema. Failure hooks let tests break individual writes.
type memRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]User
	slots map[uuid.UUID]Slot
	appts map[uuid.UUID]Appointment
	clock time.Time

	failSetBooked func(id uuid.UUID, booked bool) error
	failCreate    func(a *Appointment) error
}

func newMemRepo() *memRepo {
	return &memRepo{
		users: make(map[uuid.UUID]User),
		slots: make(map[uuid.UUID]Slot),
		appts: make(map[uuid.UUID]Appointment),
		clock: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type memSnapshot struct {
	users map[uuid.UUID]User
	slots map[uuid.UUID]Slot
	appts map[uuid.UUID]Appointment
}

func (r *memRepo) snapshot() memSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := memSnapshot{
		users: make(map[uuid.UUID]User, len(r.users)),
		slots: make(map[uuid.UUID]Slot, len(r.slots)),
		appts: make(map[uuid.UUID]Appointment, len(r.appts)),
	}
	for k, v := range r.users {
		s.users[k] = v
	}
	for k, v := range r.slots {
		s.slots[k] = v
	}
	for k, v := range r.appts {
		s.appts[k] = v
	}
	return s
}

func (r *memRepo) restore(s memSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users, r.slots, r.appts = s.users, s.slots, s.appts
}

// tick returns strictly increasing timestamps so created_at orders inserts.
func (r *memRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Millisecond)
	return r.clock
}

// memTx serializes transactions and rolls the repo back when fn fails.
type memTx struct {
	mu        sync.Mutex
	repo      *memRepo
	commits   int
	rollbacks int
}

func (t *memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.repo.snapshot()
	if err := fn(ctx); err != nil {
		t.repo.restore(snap)
		t.rollbacks++
		return err
	}
	t.commits++
	return nil
}

func (r *memRepo) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r *memRepo) CreateSlot(_ context.Context, providerID uuid.UUID, start time.Time) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := start.Add(SlotDuration)
	for _, s := range r.slots {
		if s.ProviderID == providerID && s.StartTime.Before(end) && s.EndTime.After(start) {
			return nil, ErrSlotOverlap
		}
	}
	now := r.tick()
	s := Slot{ID: uuid.New(), ProviderID: providerID, StartTime: start, EndTime: end, CreatedAt: now, UpdatedAt: now}
	r.slots[s.ID] = s
	return &s, nil
}

func (r *memRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *memRepo) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.GetSlotByID(ctx, id)
}

func (r *memRepo) SetSlotBooked(_ context.Context, id uuid.UUID, booked bool) error {
	if r.failSetBooked != nil {
		if err := r.failSetBooked(id, booked); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	s.Booked = booked
	s.UpdatedAt = r.tick()
	r.slots[id] = s
	return nil
}

func (r *memRepo) DeleteSlot(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	if s.Booked {
		return ErrSlotInUse
	}
	for _, a := range r.appts {
		if a.SlotID == id && a.Status != StatusCancelled {
			return ErrSlotInUse
		}
	}
	delete(r.slots, id)
	for aid, a := range r.appts {
		if a.SlotID == id {
			delete(r.appts, aid)
		}
	}
	return nil
}

func (r *memRepo) filterSlots(keep func(Slot) bool) []Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Slot
	for _, s := range r.slots {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (r *memRepo) ListSlotsByProvider(_ context.Context, providerID uuid.UUID) ([]Slot, error) {
	return r.filterSlots(func(s Slot) bool { return s.ProviderID == providerID }), nil
}

func (r *memRepo) ListUnbookedSlots(_ context.Context, providerID *uuid.UUID, from time.Time) ([]Slot, error) {
	return r.filterSlots(func(s Slot) bool {
		return !s.Booked && s.StartTime.After(from) && (providerID == nil || s.ProviderID == *providerID)
	}), nil
}

func (r *memRepo) ListExpiredUnbookedSlots(_ context.Context, before time.Time) ([]Slot, error) {
	return r.filterSlots(func(s Slot) bool { return !s.Booked && s.EndTime.Before(before) }), nil
}

func (r *memRepo) DeleteExpiredUnbookedSlots(ctx context.Context, before time.Time) (int64, error) {
	expired, _ := r.ListExpiredUnbookedSlots(ctx, before)
	var n int64
	for _, s := range expired {
		if err := r.DeleteSlot(ctx, s.ID); err == nil {
			n++
		}
	}
	return n, nil
}

// checkUnique mirrors the partial unique indexes on appointments.
func (r *memRepo) checkUnique(a Appointment) error {
	if a.Status == StatusCancelled {
		return nil
	}
	for _, o := range r.appts {
		if o.ID == a.ID || o.Status == StatusCancelled {
			continue
		}
		if o.UserID == a.UserID && o.SlotID == a.SlotID {
			return ErrAlreadyBooked
		}
		if a.Status == StatusBooked && o.Status == StatusBooked && o.SlotID == a.SlotID {
			return ErrAlreadyBooked
		}
	}
	return nil
}

func (r *memRepo) CreateAppointment(_ context.Context, a *Appointment) error {
	if r.failCreate != nil {
		if err := r.failCreate(a); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if err := r.checkUnique(*a); err != nil {
		return err
	}
	now := r.tick()
	a.CreatedAt, a.UpdatedAt = now, now
	r.appts[a.ID] = *a
	return nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetAppointmentByID(ctx, id)
}

func (r *memRepo) UpdateAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.appts[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if err := r.checkUnique(*a); err != nil {
		return err
	}
	cur.Status = a.Status
	cur.SlotID = a.SlotID
	cur.UpdatedAt = r.tick()
	r.appts[a.ID] = cur
	*a = cur
	return nil
}

func (r *memRepo) details(keep func(Appointment) bool) []AppointmentDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AppointmentDetail
	for _, a := range r.appts {
		if !keep(a) {
			continue
		}
		s := r.slots[a.SlotID]
		out = append(out, AppointmentDetail{
			Appointment:  a,
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			UserName:     r.users[a.UserID].Name,
			ProviderName: r.users[a.ProviderID].Name,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memRepo) ListAppointmentsByUser(_ context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	return r.details(func(a Appointment) bool { return a.UserID == userID }), nil
}

func (r *memRepo) ListAppointmentsByProvider(_ context.Context, providerID uuid.UUID) ([]AppointmentDetail, error) {
	return r.details(func(a Appointment) bool { return a.ProviderID == providerID }), nil
}

func (r *memRepo) ListAppointmentsByStatus(_ context.Context, status AppointmentStatus) ([]Appointment, error) {
	var out []Appointment
	for _, d := range r.details(func(a Appointment) bool { return a.Status == status }) {
		out = append(out, d.Appointment)
	}
	return out, nil
}

func (r *memRepo) find(keep func(Appointment) bool) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Appointment
	for _, a := range r.appts {
		if !keep(a) {
			continue
		}
		if best == nil || a.CreatedAt.Before(best.CreatedAt) {
			a := a
			best = &a
		}
	}
	if best == nil {
		return nil, ErrAppointmentNotFound
	}
	return best, nil
}

func (r *memRepo) FindByUserAndSlotAndStatus(_ context.Context, userID, slotID uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	return r.find(func(a Appointment) bool {
		return a.UserID == userID && a.SlotID == slotID && a.Status == status
	})
}

func (r *memRepo) FindActiveByUserAndSlot(_ context.Context, userID, slotID uuid.UUID) (*Appointment, error) {
	return r.find(func(a Appointment) bool {
		return a.UserID == userID && a.SlotID == slotID && a.Status != StatusCancelled
	})
}

func (r *memRepo) FindBookedForSlot(_ context.Context, slotID uuid.UUID) (*Appointment, error) {
	return r.find(func(a Appointment) bool {
		return a.SlotID == slotID && a.Status == StatusBooked
	})
}

func (r *memRepo) DeleteAppointmentsByStatus(_ context.Context, status AppointmentStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.appts {
		if a.Status == status {
			delete(r.appts, id)
			n++
		}
	}
	return n, nil
}

// bookedCount returns the number of BOOKED appointments on slotID.
func (r *memRepo) bookedCount(slotID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appts {
		if a.SlotID == slotID && a.Status == StatusBooked {
			n++
		}
	}
	return n
}
