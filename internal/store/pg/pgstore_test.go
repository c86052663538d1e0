package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"campushub.org/internal/auth"
	"campushub.org/internal/event"
	"campushub.org/internal/permission"
	"campushub.org/internal/registration"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

var eventCols = []string{"id", "title", "description", "venue", "status", "department_id", "creator_id",
	"max_capacity", "current_registrations", "registration_deadline", "event_date",
	"rejection_reason", "created_at", "updated_at"}

func eventRow(status event.Status, current, capacity int) []driver.Value {
	return []driver.Value{"e1", "Hack Night", "desc", "Hall A", string(status), "cs", "ga-1",
		capacity, current, testNow.Add(24 * time.Hour), testNow.Add(48 * time.Hour),
		"", testNow, testNow}
}

var regCols = []string{"id", "user_id", "event_id", "status", "created_at", "updated_at"}

func TestReserveTakesSeat(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("update events").
		WithArgs("e1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"current_registrations", "max_capacity"}).AddRow(3, 10))
	mock.ExpectQuery("insert into registrations").
		WithArgs(sqlmock.AnyArg(), "u1", "e1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(regCols).AddRow("r1", "u1", "e1", "REGISTERED", testNow, testNow))
	mock.ExpectCommit()

	reg, seats, err := s.Reserve(context.Background(), "e1", "u1", testNow)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reg.Status != registration.StatusRegistered || seats.Current != 3 || seats.Max != 10 {
		t.Fatalf("unexpected result %+v %+v", reg, seats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReserveClassifiesFullEvent(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("update events").
		WillReturnRows(sqlmock.NewRows([]string{"current_registrations", "max_capacity"}))
	mock.ExpectQuery("from events where id").
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(eventCols).AddRow(eventRow(event.StatusPublished, 10, 10)...))
	mock.ExpectRollback()

	_, _, err := s.Reserve(context.Background(), "e1", "u1", testNow)
	if !errors.Is(err, registration.ErrEventFull) {
		t.Fatalf("expected ErrEventFull, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReserveDuplicateRollsBackIncrement(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("update events").
		WillReturnRows(sqlmock.NewRows([]string{"current_registrations", "max_capacity"}).AddRow(4, 10))
	mock.ExpectQuery("insert into registrations").
		WillReturnRows(sqlmock.NewRows(regCols))
	mock.ExpectRollback()

	_, _, err := s.Reserve(context.Background(), "e1", "u1", testNow)
	if !errors.Is(err, registration.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReleaseWithoutActiveRow(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("update registrations").
		WithArgs("e1", "u1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(regCols))
	mock.ExpectRollback()

	_, _, err := s.Release(context.Background(), "e1", "u1", testNow)
	if !errors.Is(err, registration.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyTransitionLostRace(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("update events").
		WithArgs("e1", "PUBLISHED", "REGISTRATION_CLOSED", "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(eventCols))
	mock.ExpectQuery("select exists").
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	next := &event.Event{ID: "e1", Status: event.StatusRegistrationClosed, UpdatedAt: testNow}
	change := event.StatusChange{EventID: "e1", From: event.StatusPublished, To: event.StatusRegistrationClosed, ActorID: event.SystemActorID, At: testNow}
	if err := s.ApplyTransition(context.Background(), next, change); !errors.Is(err, event.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyTransitionWritesHistory(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("update events").
		WillReturnRows(sqlmock.NewRows(eventCols).AddRow(eventRow(event.StatusPendingApproval, 0, 10)...))
	mock.ExpectExec("insert into event_status_history").
		WithArgs("e1", "DRAFT", "PENDING_APPROVAL", "ga-1", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	next := &event.Event{ID: "e1", Status: event.StatusPendingApproval, UpdatedAt: testNow}
	change := event.StatusChange{EventID: "e1", From: event.StatusDraft, To: event.StatusPendingApproval, ActorID: "ga-1", At: testNow}
	if err := s.ApplyTransition(context.Background(), next, change); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.Status != event.StatusPendingApproval || next.Title != "Hack Night" {
		t.Fatalf("next not refreshed from returned row: %+v", next)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListEventsBuildsFilter(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("from events where status = $1 and department_id = $2 order by id limit $3")).
		WithArgs("PUBLISHED", "cs", 10).
		WillReturnRows(sqlmock.NewRows(eventCols).AddRow(eventRow(event.StatusPublished, 1, 10)...))

	out, err := s.ListEvents(context.Background(), event.Filter{Status: event.StatusPublished, DepartmentID: "cs", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].ID != "e1" {
		t.Fatalf("unexpected events %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListEventsStatusSetAndCursor(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("from events where status in ($1, $2) and id > $3 order by id limit $4")).
		WithArgs("PUBLISHED", "REGISTRATION_CLOSED", "e1", 2).
		WillReturnRows(sqlmock.NewRows(eventCols))

	out, err := s.ListEvents(context.Background(), event.Filter{
		Statuses: []event.Status{event.StatusPublished, event.StatusRegistrationClosed},
		AfterID:  "e1",
		Limit:    2,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("unexpected events %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteRefreshTokenMissingRow(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec("delete from refresh_tokens").WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteRefreshToken(context.Background(), "t1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("insert into users").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	u := &auth.User{ID: "u1", Email: "a@campus.edu", Role: auth.RoleStudent, IsActive: true}
	if err := s.CreateUser(context.Background(), u); !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUpsertGrant(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec("insert into group_admin_permissions").
		WithArgs("ga-1", "CREATE_EVENT", true, "da-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertGrant(context.Background(), permission.Grant{
		UserID: "ga-1", Key: permission.CreateEvent, IsGranted: true, GrantedBy: "da-1", UpdatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
