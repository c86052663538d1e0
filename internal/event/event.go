package event

import (
	"errors"
	"slices"
	"strings"
	"time"

	"campushub.org/internal/auth"
	"campushub.org/internal/validate"
)

var (
	ErrNotFound          = errors.New("event: not found")
	ErrInvalidTransition = errors.New("event: invalid status transition")
	ErrNotEditable       = errors.New("event: not editable in current status")
)

// Status is the closed set of lifecycle states.
type Status string

const (
	StatusDraft              Status = "DRAFT"
	StatusPendingApproval    Status = "PENDING_APPROVAL"
	StatusApproved           Status = "APPROVED"
	StatusPublished          Status = "PUBLISHED"
	StatusRegistrationClosed Status = "REGISTRATION_CLOSED"
	StatusOngoing            Status = "ONGOING"
	StatusCompleted          Status = "COMPLETED"
	StatusArchived           Status = "ARCHIVED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusPublished,
		StatusRegistrationClosed, StatusOngoing, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// publicStatuses are the statuses readable by accounts without an admin role.
var publicStatuses = []Status{
	StatusPublished, StatusRegistrationClosed, StatusOngoing, StatusCompleted, StatusArchived,
}

// Public reports whether s is visible outside the admin roles.
func (s Status) Public() bool {
	return slices.Contains(publicStatuses, s)
}

// VisibleStatuses restricts what u may read: nil means every status.
func VisibleStatuses(u auth.User) []Status {
	switch u.Role {
	case auth.RoleSuperAdmin, auth.RoleDepartmentAdmin, auth.RoleGroupAdmin:
		return nil
	}
	return slices.Clone(publicStatuses)
}

// CanView reports whether u may read e and its history.
func CanView(u auth.User, e Event) bool {
	visible := VisibleStatuses(u)
	return visible == nil || slices.Contains(visible, e.Status)
}

// Event is a campus event row.
type Event struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	Venue                string    `json:"venue"`
	Status               Status    `json:"status"`
	DepartmentID         string    `json:"department_id"`
	CreatorID            string    `json:"creator_id"`
	MaxCapacity          int       `json:"max_capacity"`
	CurrentRegistrations int       `json:"current_registrations"`
	RegistrationDeadline time.Time `json:"registration_deadline"`
	Date                 time.Time `json:"date"`
	RejectionReason      string    `json:"rejection_reason,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Full reports whether every seat is taken.
func (e Event) Full() bool {
	return e.CurrentRegistrations >= e.MaxCapacity
}

// StatusChange is one entry in an event's status history.
type StatusChange struct {
	EventID string    `json:"event_id"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	ActorID string    `json:"actor_id"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// Filter narrows List results.
type Filter struct {
	Status Status
	// Statuses, when set, is the allowed set of statuses.
	Statuses     []Status
	DepartmentID string
	CreatorID    string
	// AfterID resumes a listing after the event with this id.
	AfterID string
	Limit   int
}

// Input carries editable fields for create and update.
type Input struct {
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	Venue                string    `json:"venue"`
	DepartmentID         string    `json:"department_id"`
	MaxCapacity          int       `json:"max_capacity"`
	RegistrationDeadline time.Time `json:"registration_deadline"`
	Date                 time.Time `json:"date"`
}

func (in Input) validate() error {
	var v validate.Error
	if strings.TrimSpace(in.Title) == "" {
		v.Add("title", "is required")
	} else if len(in.Title) > 200 {
		v.Add("title", "must be at most 200 characters")
	}
	if in.MaxCapacity <= 0 {
		v.Add("max_capacity", "must be greater than zero")
	}
	if !in.RegistrationDeadline.IsZero() && !in.Date.IsZero() && in.RegistrationDeadline.After(in.Date) {
		v.Add("registration_deadline", "must not be after the event date")
	}
	return v.Err()
}

func (in Input) apply(e *Event) {
	e.Title = strings.TrimSpace(in.Title)
	e.Description = strings.TrimSpace(in.Description)
	e.Venue = strings.TrimSpace(in.Venue)
	e.MaxCapacity = in.MaxCapacity
	e.RegistrationDeadline = in.RegistrationDeadline.UTC()
	e.Date = in.Date.UTC()
}

// checkComplete is the precondition for submitting an event for approval.
func checkComplete(e Event) error {
	var v validate.Error
	if e.Title == "" {
		v.Add("title", "is required")
	}
	if e.Description == "" {
		v.Add("description", "is required")
	}
	if e.Venue == "" {
		v.Add("venue", "is required")
	}
	if e.MaxCapacity <= 0 {
		v.Add("max_capacity", "must be greater than zero")
	}
	if e.Date.IsZero() {
		v.Add("date", "is required")
	}
	if e.RegistrationDeadline.IsZero() {
		v.Add("registration_deadline", "is required")
	} else if !e.Date.IsZero() && e.RegistrationDeadline.After(e.Date) {
		v.Add("registration_deadline", "must not be after the event date")
	}
	return v.Err()
}
