// Package memory is an in-process implementation of every store interface,
// guarded by a single mutex. It backs tests and database-less runs.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"campushub.org/internal/auth"
	"campushub.org/internal/event"
	"campushub.org/internal/ids"
	"campushub.org/internal/permission"
	"campushub.org/internal/registration"
)

var (
	_ auth.Store               = (*Store)(nil)
	_ permission.GrantStore    = (*Store)(nil)
	_ event.Store              = (*Store)(nil)
	_ registration.Store       = (*Store)(nil)
	_ registration.EventReader = (*Store)(nil)
)

type regKey struct {
	eventID, userID string
}

// Store keeps all state in maps.
type Store struct {
	mu            sync.RWMutex
	users         map[string]auth.User
	emails        map[string]string
	refreshTokens map[string]auth.RefreshToken
	grants        map[string]map[permission.Key]permission.Grant
	events        map[string]event.Event
	history       map[string][]event.StatusChange
	registrations map[regKey]registration.Registration
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:         make(map[string]auth.User),
		emails:        make(map[string]string),
		refreshTokens: make(map[string]auth.RefreshToken),
		grants:        make(map[string]map[permission.Key]permission.Grant),
		events:        make(map[string]event.Event),
		history:       make(map[string][]event.StatusChange),
		registrations: make(map[regKey]registration.Registration),
	}
}

// Users ---------------------------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	if _, ok := s.emails[u.Email]; ok {
		return auth.ErrAlreadyExists
	}
	if _, ok := s.users[u.ID]; ok {
		return auth.ErrAlreadyExists
	}
	s.users[u.ID] = *u
	s.emails[u.Email] = u.ID
	return nil
}

func (s *Store) FindUser(_ context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

// UpdateUser replaces a user's role, department and active flag.
func (s *Store) UpdateUser(_ context.Context, u auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[u.ID]
	if !ok {
		return auth.ErrNotFound
	}
	cur.Role = u.Role
	cur.DepartmentID = u.DepartmentID
	cur.IsActive = u.IsActive
	cur.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = cur
	return nil
}

// Refresh tokens ------------------------------------------------------------

func (s *Store) CreateRefreshToken(_ context.Context, tok *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[tok.ID] = *tok
	return nil
}

func (s *Store) FindRefreshToken(_ context.Context, id string) (*auth.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.refreshTokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &t, nil
}

func (s *Store) DeleteRefreshToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshTokens[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.refreshTokens, id)
	return nil
}

func (s *Store) DeleteRefreshTokensByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.refreshTokens {
		if t.UserID == userID {
			delete(s.refreshTokens, id)
		}
	}
	return nil
}

// Grants --------------------------------------------------------------------

func (s *Store) GrantsForUser(_ context.Context, userID string) ([]permission.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.grants[userID]
	out := make([]permission.Grant, 0, len(rows))
	for _, g := range rows {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) UpsertGrant(_ context.Context, g permission.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[g.UserID] == nil {
		s.grants[g.UserID] = make(map[permission.Key]permission.Grant)
	}
	s.grants[g.UserID][g.Key] = g
	return nil
}

// Events --------------------------------------------------------------------

func (s *Store) CreateEvent(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = ids.New()
	}
	s.events[e.ID] = *e
	return nil
}

func (s *Store) GetEvent(_ context.Context, id string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, event.ErrNotFound
	}
	return &e, nil
}

func (s *Store) ListEvents(_ context.Context, f event.Filter) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]event.Event, 0, len(s.events))
	for _, e := range s.events {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, e.Status) {
			continue
		}
		if f.AfterID != "" && e.ID <= f.AfterID {
			continue
		}
		if f.DepartmentID != "" && e.DepartmentID != f.DepartmentID {
			continue
		}
		if f.CreatorID != "" && e.CreatorID != f.CreatorID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) UpdateEventDetails(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[e.ID]
	if !ok {
		return event.ErrNotFound
	}
	if cur.Status != event.StatusDraft || e.MaxCapacity < cur.CurrentRegistrations {
		return event.ErrNotEditable
	}
	cur.Title = e.Title
	cur.Description = e.Description
	cur.Venue = e.Venue
	cur.MaxCapacity = e.MaxCapacity
	cur.RegistrationDeadline = e.RegistrationDeadline
	cur.Date = e.Date
	cur.UpdatedAt = e.UpdatedAt
	s.events[e.ID] = cur
	*e = cur
	return nil
}

func (s *Store) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[id]
	if !ok {
		return event.ErrNotFound
	}
	if cur.Status != event.StatusDraft && cur.Status != event.StatusPendingApproval {
		return event.ErrNotEditable
	}
	delete(s.events, id)
	delete(s.history, id)
	return nil
}

func (s *Store) ApplyTransition(_ context.Context, next *event.Event, change event.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[next.ID]
	if !ok {
		return event.ErrNotFound
	}
	if cur.Status != change.From {
		return event.ErrInvalidTransition
	}
	cur.Status = change.To
	cur.RejectionReason = next.RejectionReason
	cur.UpdatedAt = next.UpdatedAt
	s.events[next.ID] = cur
	s.history[next.ID] = append(s.history[next.ID], change)
	*next = cur
	return nil
}

func (s *Store) History(_ context.Context, eventID string) ([]event.StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]event.StatusChange(nil), s.history[eventID]...), nil
}

// Registrations -------------------------------------------------------------

func (s *Store) Reserve(_ context.Context, eventID, userID string, now time.Time) (registration.Registration, registration.Seats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return registration.Registration{}, registration.Seats{}, event.ErrNotFound
	}
	if err := registration.Classify(e, now); err != nil {
		return registration.Registration{}, registration.Seats{}, err
	}
	key := regKey{eventID, userID}
	reg, exists := s.registrations[key]
	if exists && reg.Status.Active() {
		return registration.Registration{}, registration.Seats{}, registration.ErrAlreadyRegistered
	}
	ts := now.UTC()
	if !exists {
		reg = registration.Registration{ID: ids.New(), UserID: userID, EventID: eventID, CreatedAt: ts}
	}
	reg.Status = registration.StatusRegistered
	reg.UpdatedAt = ts
	s.registrations[key] = reg

	e.CurrentRegistrations++
	s.events[eventID] = e
	return reg, registration.Seats{Current: e.CurrentRegistrations, Max: e.MaxCapacity}, nil
}

func (s *Store) Release(_ context.Context, eventID, userID string, now time.Time) (registration.Registration, registration.Seats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := regKey{eventID, userID}
	reg, ok := s.registrations[key]
	if !ok || !reg.Status.Active() {
		return registration.Registration{}, registration.Seats{}, registration.ErrNotRegistered
	}
	reg.Status = registration.StatusCancelled
	reg.UpdatedAt = now.UTC()
	s.registrations[key] = reg

	e := s.events[eventID]
	if e.CurrentRegistrations > 0 {
		e.CurrentRegistrations--
	}
	s.events[eventID] = e
	return reg, registration.Seats{Current: e.CurrentRegistrations, Max: e.MaxCapacity}, nil
}

func (s *Store) GetRegistration(_ context.Context, eventID, userID string) (*registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.registrations[regKey{eventID, userID}]
	if !ok {
		return nil, registration.ErrNotRegistered
	}
	return &reg, nil
}

func (s *Store) SetAttendance(_ context.Context, eventID, userID string, status registration.Status, now time.Time) (registration.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := regKey{eventID, userID}
	reg, ok := s.registrations[key]
	if !ok || reg.Status == registration.StatusCancelled {
		return registration.Registration{}, registration.ErrNotRegistered
	}
	reg.Status = status
	reg.UpdatedAt = now.UTC()
	s.registrations[key] = reg
	return reg, nil
}

func (s *Store) ListByEvent(_ context.Context, eventID string) ([]registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []registration.Registration
	for k, r := range s.registrations {
		if k.eventID == eventID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []registration.Registration
	for k, r := range s.registrations {
		if k.userID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Ping satisfies readiness probes.
func (s *Store) Ping(context.Context) error { return nil }
