package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"campushub.org/internal/ids"
	"campushub.org/internal/registration"
)

var (
	_ registration.Store       = (*Store)(nil)
	_ registration.EventReader = (*Store)(nil)
)

const registrationColumns = `id, user_id, event_id, status, created_at, updated_at`

func scanRegistration(row scanner) (*registration.Registration, error) {
	var r registration.Registration
	var status string
	if err := row.Scan(&r.ID, &r.UserID, &r.EventID, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = registration.Status(status)
	return &r, nil
}

// Reserve takes the seat with a single guarded increment, so concurrent
// callers can never push current_registrations past max_capacity. The
// registration row is inserted or reactivated in the same transaction.
func (s *Store) Reserve(ctx context.Context, eventID, userID string, now time.Time) (registration.Registration, registration.Seats, error) {
	now = now.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return registration.Registration{}, registration.Seats{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var seats registration.Seats
	err = tx.QueryRowContext(ctx, `
		update events
		set current_registrations = current_registrations + 1, updated_at = $2
		where id = $1
		  and status = 'PUBLISHED'
		  and current_registrations < max_capacity
		  and registration_deadline >= $2
		returning current_registrations, max_capacity
	`, eventID, now).Scan(&seats.Current, &seats.Max)
	if errors.Is(err, sql.ErrNoRows) {
		e, gerr := getEvent(ctx, tx, eventID)
		if gerr != nil {
			return registration.Registration{}, registration.Seats{}, gerr
		}
		if cerr := registration.Classify(*e, now); cerr != nil {
			return registration.Registration{}, registration.Seats{}, cerr
		}
		return registration.Registration{}, registration.Seats{}, registration.ErrRegistrationClosed
	}
	if err != nil {
		return registration.Registration{}, registration.Seats{}, err
	}

	reg, err := scanRegistration(tx.QueryRowContext(ctx, `
		insert into registrations (id, user_id, event_id, status, created_at, updated_at)
		values ($1, $2, $3, 'REGISTERED', $4, $4)
		on conflict (user_id, event_id) do update
		set status = 'REGISTERED', updated_at = excluded.updated_at
		where registrations.status <> 'REGISTERED'
		returning `+registrationColumns,
		ids.New(), userID, eventID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return registration.Registration{}, registration.Seats{}, registration.ErrAlreadyRegistered
	}
	if err != nil {
		return registration.Registration{}, registration.Seats{}, err
	}
	if err := tx.Commit(); err != nil {
		return registration.Registration{}, registration.Seats{}, err
	}
	return *reg, seats, nil
}

func (s *Store) Release(ctx context.Context, eventID, userID string, now time.Time) (registration.Registration, registration.Seats, error) {
	now = now.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return registration.Registration{}, registration.Seats{}, err
	}
	defer func() { _ = tx.Rollback() }()

	reg, err := scanRegistration(tx.QueryRowContext(ctx, `
		update registrations
		set status = 'CANCELLED', updated_at = $3
		where event_id = $1 and user_id = $2 and status = 'REGISTERED'
		returning `+registrationColumns,
		eventID, userID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return registration.Registration{}, registration.Seats{}, registration.ErrNotRegistered
	}
	if err != nil {
		return registration.Registration{}, registration.Seats{}, err
	}

	var seats registration.Seats
	if err := tx.QueryRowContext(ctx, `
		update events
		set current_registrations = greatest(current_registrations - 1, 0), updated_at = $2
		where id = $1
		returning current_registrations, max_capacity
	`, eventID, now).Scan(&seats.Current, &seats.Max); err != nil {
		return registration.Registration{}, registration.Seats{}, err
	}
	if err := tx.Commit(); err != nil {
		return registration.Registration{}, registration.Seats{}, err
	}
	return *reg, seats, nil
}

func (s *Store) GetRegistration(ctx context.Context, eventID, userID string) (*registration.Registration, error) {
	reg, err := scanRegistration(s.db.QueryRowContext(ctx, `
		select `+registrationColumns+` from registrations where event_id = $1 and user_id = $2
	`, eventID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registration.ErrNotRegistered
	}
	return reg, err
}

func (s *Store) SetAttendance(ctx context.Context, eventID, userID string, status registration.Status, now time.Time) (registration.Registration, error) {
	reg, err := scanRegistration(s.db.QueryRowContext(ctx, `
		update registrations
		set status = $3, updated_at = $4
		where event_id = $1 and user_id = $2 and status <> 'CANCELLED'
		returning `+registrationColumns,
		eventID, userID, string(status), now.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return registration.Registration{}, registration.ErrNotRegistered
	}
	if err != nil {
		return registration.Registration{}, err
	}
	return *reg, nil
}

func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]registration.Registration, error) {
	return s.listRegistrations(ctx, `where event_id = $1`, eventID)
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]registration.Registration, error) {
	return s.listRegistrations(ctx, `where user_id = $1`, userID)
}

func (s *Store) listRegistrations(ctx context.Context, where string, arg string) ([]registration.Registration, error) {
	rows, err := s.db.QueryContext(ctx, `select `+registrationColumns+` from registrations `+where+` order by id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registration.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
