package appointment

import (
	"fmt"
	"time"

	"github.com/hackgods/slot-waitlist-scheduling/internal/notify"
)

func when(t time.Time) (string, string) {
	t = t.UTC()
	return t.Format("2006-01-02"), t.Format("15:04 MST")
}

func specialization(p *User) string {
	if p.Specialization == nil || *p.Specialization == "" {
		return "your appointment"
	}
	return *p.Specialization
}

func msgBookedUser(u, p *User, s *Slot) notify.Notification {
	day, at := when(s.StartTime)
	return notify.Notification{
		Recipient: u.Email,
		Subject:   "Appointment Confirmed!",
		Body: fmt.Sprintf("Your appointment with %s for %s has been successfully booked on %s at %s.",
			p.Name, specialization(p), day, at),
	}
}

func msgBookedProvider(u, p *User, s *Slot) notify.Notification {
	day, at := when(s.StartTime)
	return notify.Notification{
		Recipient: p.Email,
		Subject:   "New Appointment Booked!",
		Body:      fmt.Sprintf("You have a new appointment with %s on %s at %s.", u.Name, day, at),
	}
}

func msgQueuedUser(u, p *User, s *Slot) notify.Notification {
	day, at := when(s.StartTime)
	return notify.Notification{
		Recipient: u.Email,
		Subject:   "Added to Waiting List",
		Body: fmt.Sprintf("You have been added to the waiting list for %s with %s on %s at %s. We will notify you if this slot becomes available.",
			specialization(p), p.Name, day, at),
	}
}

func msgQueuedProvider(u, p *User, s *Slot) notify.Notification {
	day, at := when(s.StartTime)
	return notify.Notification{
		Recipient: p.Email,
		Subject:   "New User in Queue",
		Body:      fmt.Sprintf("User %s has been added to the waiting list for your slot on %s at %s.", u.Name, day, at),
	}
}

func msgCancelledUser(u, p *User, s *Slot) notify.Notification {
	day, at := when(s.StartTime)
	return notify.Notification{
		Recipient: u.Email,
		Subject:   "Appointment Cancellation Confirmation",
		Body:      fmt.Sprintf("Your appointment with %s on %s at %s has been cancelled.", p.Name, day, at),
	}
}

func msgSlotReopened(u, p *User, s *Slot) notify.Notification {
	day, at := when(s.StartTime)
	return notify.Notification{
		Recipient: p.Email,
		Subject:   "Slot is Now Open",
		Body: fmt.Sprintf("Your slot on %s at %s (originally booked by %s) is now open and available for new bookings.",
			day, at, u.Name),
	}
}

func msgPromotedUser(u, p *User, s *Slot) notify.Notification {
	day, at := when(s.StartTime)
	return notify.Notification{
		Recipient: u.Email,
		Subject:   "Your Appointment is Confirmed!",
		Body: fmt.Sprintf("Great news! Your waiting slot for %s with %s on %s at %s is now confirmed! You are officially booked.",
			specialization(p), p.Name, day, at),
	}
}

func msgPromotedProvider(u, p *User, s *Slot) notify.Notification {
	day, at := when(s.StartTime)
	return notify.Notification{
		Recipient: p.Email,
		Subject:   "Slot Rebooked Automatically!",
		Body: fmt.Sprintf("Your slot on %s at %s has been automatically rebooked by %s (from the waiting list).",
			day, at, u.Name),
	}
}

func msgRescheduledUser(u, p *User, from, to *Slot) notify.Notification {
	fromDay, fromAt := when(from.StartTime)
	toDay, toAt := when(to.StartTime)
	return notify.Notification{
		Recipient: u.Email,
		Subject:   "Appointment Rescheduled!",
		Body: fmt.Sprintf("Your appointment with %s has been successfully rescheduled from %s at %s to %s at %s.",
			p.Name, fromDay, fromAt, toDay, toAt),
	}
}

func msgRescheduledProvider(u, p *User, from, to *Slot) notify.Notification {
	fromDay, fromAt := when(from.StartTime)
	toDay, toAt := when(to.StartTime)
	return notify.Notification{
		Recipient: p.Email,
		Subject:   "Appointment Rescheduled Update",
		Body: fmt.Sprintf("Appointment for %s has been rescheduled from %s at %s to %s at %s.",
			u.Name, fromDay, fromAt, toDay, toAt),
	}
}

func msgRescheduleQueuedUser(u, p *User, to *Slot) notify.Notification {
	day, at := when(to.StartTime)
	return notify.Notification{
		Recipient: u.Email,
		Subject:   "Reschedule Request - Added to Queue",
		Body: fmt.Sprintf("Your request to reschedule with %s is pending. You have been added to the waiting list for the new slot on %s at %s. We will notify you if it becomes available.",
			p.Name, day, at),
	}
}

func msgRescheduleQueuedProvider(u, p *User, from, to *Slot) notify.Notification {
	fromDay, fromAt := when(from.StartTime)
	toDay, toAt := when(to.StartTime)
	return notify.Notification{
		Recipient: p.Email,
		Subject:   "Appointment Reschedule Update",
		Body: fmt.Sprintf("Appointment for %s (originally for %s at %s) has been rescheduled. User %s is now queued for your slot on %s at %s.",
			u.Name, fromDay, fromAt, u.Name, toDay, toAt),
	}
}
