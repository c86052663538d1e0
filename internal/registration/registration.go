package registration

import (
	"errors"
	"time"
)

var (
	ErrEventFull          = errors.New("registration: event is full")
	ErrDeadlinePassed     = errors.New("registration: deadline has passed")
	ErrAlreadyRegistered  = errors.New("registration: already registered")
	ErrNotRegistered      = errors.New("registration: not registered")
	ErrRegistrationClosed = errors.New("registration: event is not accepting registrations")
	ErrNotStudent         = errors.New("registration: only students may register")
)

// Status of a registration row.
type Status string

const (
	StatusRegistered Status = "REGISTERED"
	StatusCancelled  Status = "CANCELLED"
	StatusAttended   Status = "ATTENDED"
	StatusAbsent     Status = "ABSENT"
)

// Active reports whether the row holds a seat.
func (s Status) Active() bool {
	return s == StatusRegistered
}

// Registration is the single row for a (user, event) pair.
type Registration struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
