// Package eventbus carries domain notices (status changes, seat changes) to
// interested sinks such as the SSE stream and Kafka.
package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"campushub.org/internal/obs"
)

const (
	TypeEventStatusChanged     = "event.status_changed"
	TypeRegistrationCreated    = "registration.created"
	TypeRegistrationCancelled  = "registration.cancelled"
	TypeRegistrationAttendance = "registration.attendance"
)

// Notice is a domain fact published after a successful mutation.
type Notice struct {
	Type                 string    `json:"type"`
	EventID              string    `json:"event_id"`
	UserID               string    `json:"user_id,omitempty"`
	From                 string    `json:"from,omitempty"`
	To                   string    `json:"to,omitempty"`
	CurrentRegistrations int       `json:"current_registrations"`
	MaxCapacity          int       `json:"max_capacity"`
	At                   time.Time `json:"at"`
}

// Publisher delivers notices. Implementations must not block for long.
type Publisher interface {
	Publish(ctx context.Context, n Notice) error
}

// Nop discards notices.
type Nop struct{}

func (Nop) Publish(context.Context, Notice) error { return nil }

// Fanout publishes to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, n Notice) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes n and logs failures. Notices are best effort: a failed
// publish never fails the mutation that produced it.
func Emit(ctx context.Context, p Publisher, n Notice) {
	if p == nil {
		return
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	if err := p.Publish(ctx, n); err != nil {
		obs.Logger().Warn("notice publish failed",
			slog.String("event", "eventbus.publish_failed"),
			slog.String("module", "eventbus"),
			slog.String("type", n.Type),
			slog.String("event_id", n.EventID),
			slog.Any("error", err),
		)
	}
}
