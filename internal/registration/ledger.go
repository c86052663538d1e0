package registration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"campushub.org/internal/auth"
	"campushub.org/internal/event"
	"campushub.org/internal/eventbus"
	"campushub.org/internal/obs"
	"campushub.org/internal/permission"
	"campushub.org/internal/validate"
)

// Seats is an event's counter after a reserve or release.
type Seats struct {
	Current int
	Max     int
}

// Store persists registrations. Reserve and Release each run as one atomic
// unit together with the event's seat counter.
type Store interface {
	// Reserve increments the counter iff the event is PUBLISHED, has a free
	// seat and its deadline has not passed, and inserts or reactivates the
	// (user, event) row. Failures are reported with the errors of Classify
	// or ErrAlreadyRegistered, and the counter is left unchanged.
	Reserve(ctx context.Context, eventID, userID string, now time.Time) (Registration, Seats, error)
	// Release flips an active row to CANCELLED and decrements the counter,
	// never below zero. ErrNotRegistered when no active row exists.
	Release(ctx context.Context, eventID, userID string, now time.Time) (Registration, Seats, error)
	// GetRegistration returns ErrNotRegistered when no row exists.
	GetRegistration(ctx context.Context, eventID, userID string) (*Registration, error)
	// SetAttendance updates a non-cancelled row, otherwise ErrNotRegistered.
	SetAttendance(ctx context.Context, eventID, userID string, status Status, now time.Time) (Registration, error)
	ListByEvent(ctx context.Context, eventID string) ([]Registration, error)
	ListByUser(ctx context.Context, userID string) ([]Registration, error)
}

// EventReader loads the raw stored event.
type EventReader interface {
	GetEvent(ctx context.Context, id string) (*event.Event, error)
}

// Authorizer checks administrative capabilities.
type Authorizer interface {
	Authorize(ctx context.Context, user auth.User, key permission.Key) error
}

// Classify reports why e cannot take a new registration at now, in the order
// callers observe: full, deadline passed, not published.
func Classify(e event.Event, now time.Time) error {
	if e.Full() {
		return ErrEventFull
	}
	switch e.Status {
	case event.StatusPublished, event.StatusRegistrationClosed:
		if now.After(e.RegistrationDeadline) {
			return ErrDeadlinePassed
		}
	}
	if e.Status != event.StatusPublished {
		return ErrRegistrationClosed
	}
	return nil
}

// Ledger enforces capacity-safe registration and cancellation.
type Ledger struct {
	store     Store
	events    EventReader
	authz     Authorizer
	publisher eventbus.Publisher
	now       func() time.Time
}

// Option configures Ledger.
type Option func(*Ledger)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithPublisher sets the sink for seat change notices.
func WithPublisher(p eventbus.Publisher) Option {
	return func(l *Ledger) {
		if p != nil {
			l.publisher = p
		}
	}
}

// NewLedger constructs a Ledger.
func NewLedger(store Store, events EventReader, authz Authorizer, opts ...Option) *Ledger {
	l := &Ledger{store: store, events: events, authz: authz, publisher: eventbus.Nop{}, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register takes a seat for user. The pre-checks give precise errors; the
// store's conditional reserve is what guarantees capacity under concurrency.
func (l *Ledger) Register(ctx context.Context, user auth.User, eventID string) (Registration, error) {
	ctx, span := obs.Tracer().Start(ctx, "registration.Register")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", eventID))

	reg, seats, err := l.register(ctx, user, eventID)
	obs.ObserveRegistration(outcome("register", err))
	if err != nil {
		span.RecordError(err)
		return Registration{}, err
	}
	l.log("registration created", "registration.created", eventID, user.ID, seats)
	eventbus.Emit(ctx, l.publisher, eventbus.Notice{
		Type:                 eventbus.TypeRegistrationCreated,
		EventID:              eventID,
		UserID:               user.ID,
		CurrentRegistrations: seats.Current,
		MaxCapacity:          seats.Max,
		At:                   reg.UpdatedAt,
	})
	return reg, nil
}

func (l *Ledger) register(ctx context.Context, user auth.User, eventID string) (Registration, Seats, error) {
	if user.Role != auth.RoleStudent {
		return Registration{}, Seats{}, ErrNotStudent
	}
	e, err := l.events.GetEvent(ctx, eventID)
	if err != nil {
		return Registration{}, Seats{}, err
	}
	now := l.now()
	if err := Classify(*e, now); err != nil {
		return Registration{}, Seats{}, err
	}
	existing, err := l.store.GetRegistration(ctx, eventID, user.ID)
	if err != nil && !errors.Is(err, ErrNotRegistered) {
		return Registration{}, Seats{}, err
	}
	if existing != nil && existing.Status.Active() {
		return Registration{}, Seats{}, ErrAlreadyRegistered
	}
	return l.store.Reserve(ctx, eventID, user.ID, now)
}

// Cancel releases user's seat. Allowed while registration is open or closed
// but before the event starts.
func (l *Ledger) Cancel(ctx context.Context, user auth.User, eventID string) error {
	seats, err := l.cancel(ctx, user, eventID)
	obs.ObserveRegistration(outcome("cancel", err))
	if err != nil {
		return err
	}
	l.log("registration cancelled", "registration.cancelled", eventID, user.ID, seats)
	eventbus.Emit(ctx, l.publisher, eventbus.Notice{
		Type:                 eventbus.TypeRegistrationCancelled,
		EventID:              eventID,
		UserID:               user.ID,
		CurrentRegistrations: seats.Current,
		MaxCapacity:          seats.Max,
	})
	return nil
}

func (l *Ledger) cancel(ctx context.Context, user auth.User, eventID string) (Seats, error) {
	if user.Role != auth.RoleStudent {
		return Seats{}, ErrNotStudent
	}
	e, err := l.events.GetEvent(ctx, eventID)
	if err != nil {
		return Seats{}, err
	}
	now := l.now()
	switch event.EffectiveStatus(*e, now) {
	case event.StatusPublished, event.StatusRegistrationClosed:
	default:
		return Seats{}, ErrRegistrationClosed
	}
	_, seats, err := l.store.Release(ctx, eventID, user.ID, now)
	return seats, err
}

// MarkAttendance records ATTENDED or ABSENT for a registrant once the event
// has started.
func (l *Ledger) MarkAttendance(ctx context.Context, actor auth.User, eventID, userID string, status Status) (Registration, error) {
	if status != StatusAttended && status != StatusAbsent {
		return Registration{}, validate.Field("status", "must be ATTENDED or ABSENT")
	}
	if err := l.authz.Authorize(ctx, actor, permission.MarkAttendance); err != nil {
		return Registration{}, err
	}
	e, err := l.events.GetEvent(ctx, eventID)
	if err != nil {
		return Registration{}, err
	}
	if !event.CanManage(actor, *e) {
		return Registration{}, permission.ErrForbidden
	}
	switch event.EffectiveStatus(*e, l.now()) {
	case event.StatusOngoing, event.StatusCompleted:
	default:
		return Registration{}, event.ErrInvalidTransition
	}
	reg, err := l.store.SetAttendance(ctx, eventID, userID, status, l.now().UTC())
	if err != nil {
		return Registration{}, err
	}
	eventbus.Emit(ctx, l.publisher, eventbus.Notice{
		Type:                 eventbus.TypeRegistrationAttendance,
		EventID:              eventID,
		UserID:               userID,
		To:                   string(status),
		CurrentRegistrations: e.CurrentRegistrations,
		MaxCapacity:          e.MaxCapacity,
	})
	return reg, nil
}

// ListByEvent returns an event's registrations for a caller allowed to view them.
func (l *Ledger) ListByEvent(ctx context.Context, actor auth.User, eventID string) ([]Registration, error) {
	if err := l.authz.Authorize(ctx, actor, permission.ViewRegistrations); err != nil {
		return nil, err
	}
	e, err := l.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.CanManage(actor, *e) {
		return nil, permission.ErrForbidden
	}
	return l.store.ListByEvent(ctx, eventID)
}

// CanViewRegistrants reports whether actor may see who registered for eventID,
// under the same rule as ListByEvent.
func (l *Ledger) CanViewRegistrants(ctx context.Context, actor auth.User, eventID string) bool {
	if err := l.authz.Authorize(ctx, actor, permission.ViewRegistrations); err != nil {
		return false
	}
	e, err := l.events.GetEvent(ctx, eventID)
	if err != nil {
		return false
	}
	return event.CanManage(actor, *e)
}

// ListForUser returns the caller's own registrations.
func (l *Ledger) ListForUser(ctx context.Context, user auth.User) ([]Registration, error) {
	return l.store.ListByUser(ctx, user.ID)
}

func (l *Ledger) log(msg, name, eventID, userID string, seats Seats) {
	obs.Logger().Info(msg,
		slog.String("event", name),
		slog.String("module", "registration"),
		slog.String("event_id", eventID),
		slog.String("user_id", userID),
		slog.Int("current_registrations", seats.Current),
		slog.Int("max_capacity", seats.Max),
	)
}

func outcome(op string, err error) string {
	switch {
	case err == nil:
		return op + "_ok"
	case errors.Is(err, ErrEventFull):
		return "event_full"
	case errors.Is(err, ErrDeadlinePassed):
		return "deadline_passed"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, ErrRegistrationClosed):
		return "closed"
	default:
		return op + "_error"
	}
}
