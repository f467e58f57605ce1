package appointment

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCreateSlot(t *testing.T) {
	h := newHarness(t, time.Second)
	provider, user := h.addUser(RoleProvider), h.addUser(RoleUser)
	start := baseNow.Add(48 * time.Hour)

	slot, err := h.svc.CreateSlot(h.ctx, provider.ID, start)
	if err != nil {
		t.Fatalf("CreateSlot error: %v", err)
	}
	if !slot.EndTime.Equal(start.Add(SlotDuration)) {
		t.Fatalf("end = %v, want start + 1h", slot.EndTime)
	}
	if slot.Booked {
		t.Fatalf("new slot is booked")
	}

	cases := []struct {
		name       string
		providerID uuid.UUID
		start      time.Time
		kind       error
	}{
		{"overlap", provider.ID, start.Add(30 * time.Minute), ErrConflict},
		{"in the past", provider.ID, baseNow.Add(-time.Hour), ErrValidation},
		{"not a provider", user.ID, start.Add(4 * time.Hour), ErrValidation},
		{"unknown provider", uuid.New(), start.Add(4 * time.Hour), ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateSlot(h.ctx, tc.providerID, tc.start)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("err = %v, want kind %v", err, tc.kind)
			}
		})
	}

	// back to back is not an overlap
	if _, err := h.svc.CreateSlot(h.ctx, provider.ID, start.Add(SlotDuration)); err != nil {
		t.Fatalf("adjacent slot error: %v", err)
	}
}

func TestDeleteSlot(t *testing.T) {
	h := newHarness(t, time.Second)
	provider, other, user := h.addUser(RoleProvider), h.addUser(RoleProvider), h.addUser(RoleUser)
	free := h.addSlot(provider, baseNow.Add(time.Hour))
	taken := h.addSlot(provider, baseNow.Add(3*time.Hour))
	h.book(user, taken)

	if err := h.svc.DeleteSlot(h.ctx, free.ID, other.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner err = %v, want forbidden", err)
	}
	if err := h.svc.DeleteSlot(h.ctx, taken.ID, provider.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("booked slot err = %v, want conflict", err)
	}
	if err := h.svc.DeleteSlot(h.ctx, uuid.New(), provider.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown slot err = %v, want not found", err)
	}

	_ = h.queue.Push(h.ctx, free.ID, uuid.New())
	if err := h.svc.DeleteSlot(h.ctx, free.ID, provider.ID); err != nil {
		t.Fatalf("DeleteSlot error: %v", err)
	}
	if _, err := h.repo.GetSlotByID(h.ctx, free.ID); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("slot still present: %v", err)
	}
	if h.mr.Exists("slot_queue:" + free.ID.String()) {
		t.Fatalf("waitlist key survived slot deletion")
	}
}

func TestDeleteSlot_RefusesWhileQueuedClaimsExist(t *testing.T) {
	h := newHarness(t, time.Second)
	provider, u1, u2 := h.addUser(RoleProvider), h.addUser(RoleUser), h.addUser(RoleUser)
	slot := h.addSlot(provider, baseNow.Add(time.Hour))
	r1 := h.book(u1, slot)
	h.book(u2, slot)

	// a stale booked=false flag must not let the slot go while u2 waits
	if err := h.repo.SetSlotBooked(h.ctx, slot.ID, false); err != nil {
		t.Fatalf("SetSlotBooked error: %v", err)
	}
	delete(h.repo.appts, r1.Appointment.ID)

	if err := h.svc.DeleteSlot(h.ctx, slot.ID, provider.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if n := h.queueSize(slot.ID); n != 1 {
		t.Fatalf("queue size = %d, want 1", n)
	}
}

func TestSlotListings(t *testing.T) {
	h := newHarness(t, time.Second)
	p1, p2 := h.addUser(RoleProvider), h.addUser(RoleProvider)
	u1, u2 := h.addUser(RoleUser), h.addUser(RoleUser)

	a := h.addSlot(p1, baseNow.Add(time.Hour))
	b := h.addSlot(p1, baseNow.Add(3*time.Hour))
	h.addSlot(p1, baseNow.Add(-5*time.Hour))
	c := h.addSlot(p2, baseNow.Add(2*time.Hour))

	h.book(u1, a)
	h.book(u2, a)

	all, err := h.svc.ListAvailableSlots(h.ctx, nil)
	if err != nil {
		t.Fatalf("ListAvailableSlots error: %v", err)
	}
	if len(all) != 2 || all[0].ID != c.ID || all[1].ID != b.ID {
		t.Fatalf("available = %v, want [c b]", all)
	}

	mine, err := h.svc.ListAvailableSlots(h.ctx, &p1.ID)
	if err != nil || len(mine) != 1 || mine[0].ID != b.ID {
		t.Fatalf("available for p1 = %v, %v", mine, err)
	}

	view, err := h.svc.GetSlot(h.ctx, a.ID)
	if err != nil {
		t.Fatalf("GetSlot error: %v", err)
	}
	if !view.Booked || view.QueueSize != 1 {
		t.Fatalf("view = %+v, want booked with one waiting", view)
	}

	views, err := h.svc.ListProviderSlots(h.ctx, p1.ID)
	if err != nil {
		t.Fatalf("ListProviderSlots error: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("provider slots = %d, want 3", len(views))
	}
	for _, v := range views {
		if v.ID == a.ID && v.QueueSize != 1 {
			t.Fatalf("queue size for a = %d, want 1", v.QueueSize)
		}
	}

	appts, err := h.svc.ListProviderAppointments(h.ctx, p1.ID)
	if err != nil || len(appts) != 2 {
		t.Fatalf("provider appointments = %d, %v; want 2", len(appts), err)
	}
	own, err := h.svc.ListUserAppointments(h.ctx, u2.ID)
	if err != nil || len(own) != 1 || own[0].Status != StatusQueued {
		t.Fatalf("user appointments = %+v, %v", own, err)
	}
}
