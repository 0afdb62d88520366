package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when dismissing an unknown notification.
var ErrNotFound = errors.New("notify: notification not found")

// Notification is a persistent, user-visible message. Creating one with
// an existing ID replaces it.
type Notification struct {
	ID        string    `json:"notification_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier delivers notifications to one channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Fanout delivers to every channel and joins their errors. One failing
// channel does not stop the others.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(ctx context.Context, n Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	var errs []error
	for i, target := range f {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
