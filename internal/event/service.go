package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"campushub.org/internal/auth"
	"campushub.org/internal/eventbus"
	"campushub.org/internal/ids"
	"campushub.org/internal/obs"
	"campushub.org/internal/permission"
	"campushub.org/internal/validate"
)

// Store persists events and their status history.
type Store interface {
	CreateEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	ListEvents(ctx context.Context, f Filter) ([]Event, error)
	// UpdateEventDetails rewrites editable fields only while the event is
	// still DRAFT and the new capacity covers current registrations,
	// otherwise ErrNotEditable.
	UpdateEventDetails(ctx context.Context, e *Event) error
	// DeleteEvent removes a DRAFT or PENDING_APPROVAL event, otherwise ErrNotEditable.
	DeleteEvent(ctx context.Context, id string) error
	// ApplyTransition stores next only if the stored status still equals
	// change.From, and appends change to the history in the same unit.
	// A lost race yields ErrInvalidTransition.
	ApplyTransition(ctx context.Context, next *Event, change StatusChange) error
	History(ctx context.Context, eventID string) ([]StatusChange, error)
}

// Authorizer checks administrative capabilities.
type Authorizer interface {
	Authorize(ctx context.Context, user auth.User, key permission.Key) error
}

// Service is the event lifecycle entry point used by transport handlers.
type Service struct {
	store     Store
	authz     Authorizer
	publisher eventbus.Publisher
	now       func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithPublisher sets the sink for status change notices.
func WithPublisher(p eventbus.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// NewService constructs Service.
func NewService(store Store, authz Authorizer, opts ...Option) *Service {
	s := &Service{store: store, authz: authz, publisher: eventbus.Nop{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now exposes the service clock.
func (s *Service) Now() time.Time { return s.now() }

// Create stores a new DRAFT event owned by actor.
func (s *Service) Create(ctx context.Context, actor auth.User, in Input) (Event, error) {
	if err := s.authz.Authorize(ctx, actor, permission.CreateEvent); err != nil {
		return Event{}, err
	}
	if err := in.validate(); err != nil {
		return Event{}, err
	}
	dept := actor.DepartmentID
	if actor.Role == auth.RoleSuperAdmin && in.DepartmentID != "" {
		dept = in.DepartmentID
	}
	if dept == "" {
		return Event{}, validate.Field("department_id", "is required")
	}
	now := s.now().UTC()
	e := Event{
		ID:           ids.New(),
		Status:       StatusDraft,
		DepartmentID: dept,
		CreatorID:    actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	in.apply(&e)
	if err := s.store.CreateEvent(ctx, &e); err != nil {
		return Event{}, err
	}
	obs.Logger().Info("event created",
		slog.String("event", "event.created"),
		slog.String("module", "event"),
		slog.String("event_id", e.ID),
		slog.String("user_id", actor.ID),
	)
	return e, nil
}

// Get loads an event and settles any automatic transitions that are due.
func (s *Service) Get(ctx context.Context, id string) (Event, error) {
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return Event{}, err
	}
	return s.settle(ctx, *e)
}

// List returns events matching f, each settled. Status filters apply to the
// settled status, so the store is asked for every stored status that can
// settle into a wanted one and pages are read until Limit matches are found.
func (s *Service) List(ctx context.Context, f Filter) ([]Event, error) {
	wanted := f.Statuses
	if f.Status != "" {
		if len(wanted) > 0 && !slices.Contains(wanted, f.Status) {
			return []Event{}, nil
		}
		wanted = []Status{f.Status}
	}

	stored := f
	stored.Status = ""
	stored.Statuses = nil
	for _, st := range wanted {
		for _, src := range settleSources(st) {
			if !slices.Contains(stored.Statuses, src) {
				stored.Statuses = append(stored.Statuses, src)
			}
		}
	}

	out := make([]Event, 0)
	for {
		page, err := s.store.ListEvents(ctx, stored)
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			settled, err := s.settle(ctx, e)
			if err != nil {
				return nil, err
			}
			if len(wanted) > 0 && !slices.Contains(wanted, settled.Status) {
				continue
			}
			out = append(out, settled)
			if f.Limit > 0 && len(out) == f.Limit {
				return out, nil
			}
		}
		if f.Limit <= 0 || len(page) < f.Limit {
			return out, nil
		}
		stored.AfterID = page[len(page)-1].ID
	}
}

// Update rewrites editable fields of a DRAFT event.
func (s *Service) Update(ctx context.Context, actor auth.User, id string, in Input) (Event, error) {
	if err := s.authz.Authorize(ctx, actor, permission.UpdateEvent); err != nil {
		return Event{}, err
	}
	if err := in.validate(); err != nil {
		return Event{}, err
	}
	current, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return Event{}, err
	}
	if !CanManage(actor, *current) {
		return Event{}, permission.ErrForbidden
	}
	if current.Status != StatusDraft {
		return Event{}, ErrNotEditable
	}
	if in.MaxCapacity < current.CurrentRegistrations {
		return Event{}, validate.Field("max_capacity", "must not be below current registrations")
	}
	next := *current
	in.apply(&next)
	next.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateEventDetails(ctx, &next); err != nil {
		return Event{}, err
	}
	return next, nil
}

// Delete removes a DRAFT or PENDING_APPROVAL event.
func (s *Service) Delete(ctx context.Context, actor auth.User, id string) error {
	if err := s.authz.Authorize(ctx, actor, permission.DeleteEvent); err != nil {
		return err
	}
	current, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	if !CanManage(actor, *current) {
		return permission.ErrForbidden
	}
	if current.Status != StatusDraft && current.Status != StatusPendingApproval {
		return ErrNotEditable
	}
	return s.store.DeleteEvent(ctx, id)
}

// Transition moves an event to status to on behalf of actor. The capability
// guarding the edge, if any, is checked first; then the transition table.
func (s *Service) Transition(ctx context.Context, actor auth.User, id string, to Status, reason string) (Event, error) {
	ctx, span := obs.Tracer().Start(ctx, "event.Transition")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", id), attribute.String("event.to", string(to)))

	e, err := s.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return Event{}, err
	}
	if key, ok := RequiredPermission(e.Status, to); ok {
		if err := s.authz.Authorize(ctx, actor, key); err != nil {
			return Event{}, err
		}
	}
	next, err := s.apply(ctx, e, Request{Actor: Actor{User: actor}, To: to, Reason: reason, Now: s.now()})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Event{}, err
	}
	return next, nil
}

// History lists status changes oldest first.
func (s *Service) History(ctx context.Context, id string) ([]StatusChange, error) {
	if _, err := s.store.GetEvent(ctx, id); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id)
}

func (s *Service) apply(ctx context.Context, e Event, req Request) (Event, error) {
	next, change, err := Transition(e, req)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			obs.Logger().Info("transition rejected",
				slog.String("event", "event.transition_rejected"),
				slog.String("module", "event"),
				slog.String("event_id", e.ID),
				slog.String("from", string(e.Status)),
				slog.String("to", string(req.To)),
				slog.String("user_id", req.Actor.User.ID),
			)
		}
		return Event{}, err
	}
	if err := s.store.ApplyTransition(ctx, &next, change); err != nil {
		return Event{}, err
	}
	obs.ObserveTransition(string(change.From), string(change.To))
	obs.Logger().Info("event status changed",
		slog.String("event", "event.status_changed"),
		slog.String("module", "event"),
		slog.String("event_id", e.ID),
		slog.String("from", string(change.From)),
		slog.String("to", string(change.To)),
		slog.String("actor_id", change.ActorID),
	)
	eventbus.Emit(ctx, s.publisher, eventbus.Notice{
		Type:                 eventbus.TypeEventStatusChanged,
		EventID:              next.ID,
		From:                 string(change.From),
		To:                   string(change.To),
		CurrentRegistrations: next.CurrentRegistrations,
		MaxCapacity:          next.MaxCapacity,
		At:                   change.At,
	})
	return next, nil
}

// settle persists automatic transitions that are due at now. A lost race
// with another writer reloads the row and tries again.
func (s *Service) settle(ctx context.Context, e Event) (Event, error) {
	for attempt := 0; attempt < 4; attempt++ {
		to, due := settleTarget(e, s.now())
		if !due {
			return e, nil
		}
		next, err := s.apply(ctx, e, Request{Actor: Actor{System: true}, To: to, Now: s.now()})
		if err == nil {
			e = next
			continue
		}
		if !errors.Is(err, ErrInvalidTransition) {
			return Event{}, fmt.Errorf("settle event %s: %w", e.ID, err)
		}
		reloaded, err := s.store.GetEvent(ctx, e.ID)
		if err != nil {
			return Event{}, err
		}
		e = *reloaded
	}
	return e, nil
}
