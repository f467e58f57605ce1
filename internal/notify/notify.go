// Package notify delivers best-effort user and provider notifications.
// Delivery never feeds back into booking state: a failed send is logged and
// counted, nothing more.
package notify

import (
	"context"
	"time"
)

type Notification struct {
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender hands a notification to a transport.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}
