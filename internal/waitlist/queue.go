// Package waitlist keeps the per-slot FIFO of users waiting for a booked slot.
package waitlist

import (
	"context"

	"github.com/google/uuid"
)

// Queue is the single source of truth for who is next on a slot. Ordering is
// strict FIFO within a slot and undefined across slots. The queue does not
// deduplicate; callers check Contains before Push.
type Queue interface {
	Push(ctx context.Context, slotID, userID uuid.UUID) error
	// Pop removes the head entry. ok is false when the queue is empty. The raw
	// entry is returned untouched so the caller decides what a malformed or
	// stale entry means.
	Pop(ctx context.Context, slotID uuid.UUID) (entry string, ok bool, err error)
	// PushFront puts an entry back at the head. Only used to undo a Pop whose
	// surrounding transaction did not commit.
	PushFront(ctx context.Context, slotID uuid.UUID, entry string) error
	Contains(ctx context.Context, slotID, userID uuid.UUID) (bool, error)
	Remove(ctx context.Context, slotID, userID uuid.UUID) (int64, error)
	Size(ctx context.Context, slotID uuid.UUID) (int64, error)
	Clear(ctx context.Context, slotID uuid.UUID) error
}
