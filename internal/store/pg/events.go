package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"campushub.org/internal/event"
)

var _ event.Store = (*Store)(nil)

const eventColumns = `id, title, description, venue, status, department_id, creator_id,
	max_capacity, current_registrations, registration_deadline, event_date,
	rejection_reason, created_at, updated_at`

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanEvent(row scanner) (*event.Event, error) {
	var e event.Event
	var status string
	if err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Venue, &status, &e.DepartmentID, &e.CreatorID,
		&e.MaxCapacity, &e.CurrentRegistrations, &e.RegistrationDeadline, &e.Date,
		&e.RejectionReason, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = event.Status(status)
	return &e, nil
}

func getEvent(ctx context.Context, q queryRower, id string) (*event.Event, error) {
	e, err := scanEvent(q.QueryRowContext(ctx, `select `+eventColumns+` from events where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, event.ErrNotFound
	}
	return e, err
}

// eventExists separates "missing" from "guard failed" after a conditional write.
func eventExists(ctx context.Context, q queryRower, id string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `select exists(select 1 from events where id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *Store) CreateEvent(ctx context.Context, e *event.Event) error {
	_, err := s.db.ExecContext(ctx, `
		insert into events (id, title, description, venue, status, department_id, creator_id,
			max_capacity, current_registrations, registration_deadline, event_date,
			rejection_reason, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.Title, e.Description, e.Venue, string(e.Status), e.DepartmentID, e.CreatorID,
		e.MaxCapacity, e.CurrentRegistrations, e.RegistrationDeadline, e.Date,
		e.RejectionReason, timeOrNow(e.CreatedAt), timeOrNow(e.UpdatedAt))
	return err
}

func (s *Store) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	return getEvent(ctx, s.db, id)
}

func (s *Store) ListEvents(ctx context.Context, f event.Filter) ([]event.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "status = "+placeholder(args))
	}
	if len(f.Statuses) > 0 {
		in := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			args = append(args, string(st))
			in = append(in, placeholder(args))
		}
		where = append(where, "status in ("+strings.Join(in, ", ")+")")
	}
	if f.DepartmentID != "" {
		args = append(args, f.DepartmentID)
		where = append(where, "department_id = "+placeholder(args))
	}
	if f.CreatorID != "" {
		args = append(args, f.CreatorID)
		where = append(where, "creator_id = "+placeholder(args))
	}
	if f.AfterID != "" {
		args = append(args, f.AfterID)
		where = append(where, "id > "+placeholder(args))
	}
	query := `select ` + eventColumns + ` from events`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` limit ` + placeholder(args)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateEventDetails(ctx context.Context, e *event.Event) error {
	updated, err := scanEvent(s.db.QueryRowContext(ctx, `
		update events
		set title = $2, description = $3, venue = $4, max_capacity = $5,
		    registration_deadline = $6, event_date = $7, updated_at = $8
		where id = $1 and status = 'DRAFT' and current_registrations <= $5
		returning `+eventColumns,
		e.ID, e.Title, e.Description, e.Venue, e.MaxCapacity, e.RegistrationDeadline, e.Date, timeOrNow(e.UpdatedAt)))
	if errors.Is(err, sql.ErrNoRows) {
		return s.guardFailure(ctx, e.ID, event.ErrNotEditable)
	}
	if err != nil {
		return err
	}
	*e = *updated
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from events where id = $1 and status in ('DRAFT', 'PENDING_APPROVAL')
	`, id)
	if err != nil {
		return err
	}
	if err := requireRow(res, event.ErrNotEditable); err != nil {
		if errors.Is(err, event.ErrNotEditable) {
			return s.guardFailure(ctx, id, event.ErrNotEditable)
		}
		return err
	}
	return nil
}

// ApplyTransition writes the new status only if the row still holds
// change.From, and appends the history row in the same transaction.
func (s *Store) ApplyTransition(ctx context.Context, next *event.Event, change event.StatusChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	updated, err := scanEvent(tx.QueryRowContext(ctx, `
		update events
		set status = $3, rejection_reason = $4, updated_at = $5
		where id = $1 and status = $2
		returning `+eventColumns,
		next.ID, string(change.From), string(change.To), next.RejectionReason, timeOrNow(next.UpdatedAt)))
	if errors.Is(err, sql.ErrNoRows) {
		exists, xerr := eventExists(ctx, tx, next.ID)
		if xerr != nil {
			return xerr
		}
		if !exists {
			return event.ErrNotFound
		}
		return event.ErrInvalidTransition
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into event_status_history (event_id, from_status, to_status, actor_id, reason, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, change.EventID, string(change.From), string(change.To), change.ActorID, change.Reason, timeOrNow(change.At)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	*next = *updated
	return nil
}

func (s *Store) History(ctx context.Context, eventID string) ([]event.StatusChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		select event_id, from_status, to_status, actor_id, reason, created_at
		from event_status_history
		where event_id = $1
		order by id
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.StatusChange
	for rows.Next() {
		var c event.StatusChange
		var from, to string
		if err := rows.Scan(&c.EventID, &from, &to, &c.ActorID, &c.Reason, &c.At); err != nil {
			return nil, err
		}
		c.From, c.To = event.Status(from), event.Status(to)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) guardFailure(ctx context.Context, id string, guard error) error {
	exists, err := eventExists(ctx, s.db, id)
	if err != nil {
		return err
	}
	if !exists {
		return event.ErrNotFound
	}
	return guard
}
