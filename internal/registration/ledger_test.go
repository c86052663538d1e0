package registration_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"campushub.org/internal/auth"
	"campushub.org/internal/event"
	"campushub.org/internal/eventbus"
	"campushub.org/internal/permission"
	"campushub.org/internal/registration"
	"campushub.org/internal/store/memory"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var (
	deptAdmin  = auth.User{ID: "da", Role: auth.RoleDepartmentAdmin, DepartmentID: "cs", IsActive: true}
	groupAdmin = auth.User{ID: "gb", Role: auth.RoleGroupAdmin, DepartmentID: "cs", IsActive: true}
)

type recorder struct {
	mu      sync.Mutex
	notices []eventbus.Notice
}

func (r *recorder) Publish(_ context.Context, n eventbus.Notice) error {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
	return nil
}

func (r *recorder) last() eventbus.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notices[len(r.notices)-1]
}

func studentN(i int) auth.User {
	return auth.User{ID: fmt.Sprintf("st-%d", i), Role: auth.RoleStudent, DepartmentID: "cs", IsActive: true}
}

func newLedger(t *testing.T, now *time.Time) (*registration.Ledger, *memory.Store, *recorder) {
	t.Helper()
	store := memory.New()
	bus := &recorder{}
	clock := func() time.Time { return *now }
	l := registration.NewLedger(store, store, permission.NewService(store, store),
		registration.WithClock(clock), registration.WithPublisher(bus))
	return l, store, bus
}

func seedEvent(t *testing.T, store *memory.Store, status event.Status, capacity int) event.Event {
	t.Helper()
	e := event.Event{
		Title:                "Robotics Expo",
		Status:               status,
		DepartmentID:         "cs",
		CreatorID:            "ga",
		MaxCapacity:          capacity,
		RegistrationDeadline: testNow.Add(24 * time.Hour),
		Date:                 testNow.Add(48 * time.Hour),
	}
	if err := store.CreateEvent(context.Background(), &e); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return e
}

func TestRegisterTakesSeat(t *testing.T) {
	now := testNow
	l, store, bus := newLedger(t, &now)
	e := seedEvent(t, store, event.StatusPublished, 5)

	reg, err := l.Register(context.Background(), studentN(1), e.ID)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.Status != registration.StatusRegistered || reg.EventID != e.ID {
		t.Fatalf("unexpected registration %+v", reg)
	}
	got, _ := store.GetEvent(context.Background(), e.ID)
	if got.CurrentRegistrations != 1 {
		t.Fatalf("expected counter 1, got %d", got.CurrentRegistrations)
	}
	n := bus.last()
	if n.Type != eventbus.TypeRegistrationCreated || n.CurrentRegistrations != 1 || n.MaxCapacity != 5 {
		t.Fatalf("unexpected notice %+v", n)
	}
}

func TestRegisterErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not a student", func(t *testing.T) {
		now := testNow
		l, store, _ := newLedger(t, &now)
		e := seedEvent(t, store, event.StatusPublished, 5)
		if _, err := l.Register(ctx, deptAdmin, e.ID); !errors.Is(err, registration.ErrNotStudent) {
			t.Fatalf("expected ErrNotStudent, got %v", err)
		}
	})

	t.Run("full", func(t *testing.T) {
		now := testNow
		l, store, _ := newLedger(t, &now)
		e := seedEvent(t, store, event.StatusPublished, 1)
		if _, err := l.Register(ctx, studentN(1), e.ID); err != nil {
			t.Fatalf("first register: %v", err)
		}
		if _, err := l.Register(ctx, studentN(2), e.ID); !errors.Is(err, registration.ErrEventFull) {
			t.Fatalf("expected ErrEventFull, got %v", err)
		}
	})

	t.Run("deadline passed", func(t *testing.T) {
		now := testNow.Add(25 * time.Hour)
		l, store, _ := newLedger(t, &now)
		e := seedEvent(t, store, event.StatusPublished, 5)
		if _, err := l.Register(ctx, studentN(1), e.ID); !errors.Is(err, registration.ErrDeadlinePassed) {
			t.Fatalf("expected ErrDeadlinePassed, got %v", err)
		}
	})

	t.Run("not published", func(t *testing.T) {
		now := testNow
		l, store, _ := newLedger(t, &now)
		e := seedEvent(t, store, event.StatusApproved, 5)
		if _, err := l.Register(ctx, studentN(1), e.ID); !errors.Is(err, registration.ErrRegistrationClosed) {
			t.Fatalf("expected ErrRegistrationClosed, got %v", err)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		now := testNow
		l, store, _ := newLedger(t, &now)
		e := seedEvent(t, store, event.StatusPublished, 5)
		if _, err := l.Register(ctx, studentN(1), e.ID); err != nil {
			t.Fatalf("first register: %v", err)
		}
		if _, err := l.Register(ctx, studentN(1), e.ID); !errors.Is(err, registration.ErrAlreadyRegistered) {
			t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
		}
	})

	t.Run("unknown event", func(t *testing.T) {
		now := testNow
		l, _, _ := newLedger(t, &now)
		if _, err := l.Register(ctx, studentN(1), "missing"); !errors.Is(err, event.ErrNotFound) {
			t.Fatalf("expected event.ErrNotFound, got %v", err)
		}
	})
}

func TestConcurrentRegistrationsNeverOverbook(t *testing.T) {
	now := testNow
	l, store, _ := newLedger(t, &now)
	e := seedEvent(t, store, event.StatusPublished, 3)

	const n = 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		full    int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := l.Register(context.Background(), studentN(i), e.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, registration.ErrEventFull):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if success != 3 || full != n-3 {
		t.Fatalf("expected 3 successes and %d full, got %d and %d", n-3, success, full)
	}
	got, _ := store.GetEvent(context.Background(), e.ID)
	if got.CurrentRegistrations != 3 {
		t.Fatalf("expected counter 3, got %d", got.CurrentRegistrations)
	}
}

func TestCancelReopensSeat(t *testing.T) {
	now := testNow
	l, store, bus := newLedger(t, &now)
	e := seedEvent(t, store, event.StatusPublished, 1)
	ctx := context.Background()

	if _, err := l.Register(ctx, studentN(1), e.ID); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := l.Register(ctx, studentN(2), e.ID); !errors.Is(err, registration.ErrEventFull) {
		t.Fatalf("expected ErrEventFull, got %v", err)
	}
	if err := l.Cancel(ctx, studentN(1), e.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n := bus.last(); n.Type != eventbus.TypeRegistrationCancelled || n.CurrentRegistrations != 0 {
		t.Fatalf("unexpected notice %+v", n)
	}
	if _, err := l.Register(ctx, studentN(2), e.ID); err != nil {
		t.Fatalf("register after cancel: %v", err)
	}
	if err := l.Cancel(ctx, studentN(1), e.ID); !errors.Is(err, registration.ErrNotRegistered) {
		t.Fatalf("second cancel: expected ErrNotRegistered, got %v", err)
	}

	// the original registrant can come back once a seat frees up again
	if err := l.Cancel(ctx, studentN(2), e.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := l.Register(ctx, studentN(1), e.ID); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}

func TestCancelAfterStartIsRejected(t *testing.T) {
	now := testNow
	l, store, _ := newLedger(t, &now)
	e := seedEvent(t, store, event.StatusPublished, 5)
	ctx := context.Background()
	if _, err := l.Register(ctx, studentN(1), e.ID); err != nil {
		t.Fatalf("register: %v", err)
	}
	now = testNow.Add(49 * time.Hour)
	if err := l.Cancel(ctx, studentN(1), e.ID); !errors.Is(err, registration.ErrRegistrationClosed) {
		t.Fatalf("expected ErrRegistrationClosed, got %v", err)
	}
}

func TestMarkAttendance(t *testing.T) {
	now := testNow
	l, store, _ := newLedger(t, &now)
	e := seedEvent(t, store, event.StatusPublished, 5)
	ctx := context.Background()
	if _, err := l.Register(ctx, studentN(1), e.ID); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := l.MarkAttendance(ctx, deptAdmin, e.ID, studentN(1).ID, registration.StatusAttended); !errors.Is(err, event.ErrInvalidTransition) {
		t.Fatalf("attendance before start: expected ErrInvalidTransition, got %v", err)
	}

	now = testNow.Add(49 * time.Hour)
	reg, err := l.MarkAttendance(ctx, deptAdmin, e.ID, studentN(1).ID, registration.StatusAttended)
	if err != nil {
		t.Fatalf("mark attendance: %v", err)
	}
	if reg.Status != registration.StatusAttended {
		t.Fatalf("expected ATTENDED, got %s", reg.Status)
	}
	if _, err := l.MarkAttendance(ctx, deptAdmin, e.ID, studentN(2).ID, registration.StatusAbsent); !errors.Is(err, registration.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if _, err := l.MarkAttendance(ctx, deptAdmin, e.ID, studentN(1).ID, registration.StatusCancelled); err == nil {
		t.Fatal("CANCELLED is not an attendance status")
	}
}

func TestListByEventRequiresOwnership(t *testing.T) {
	now := testNow
	l, store, _ := newLedger(t, &now)
	e := seedEvent(t, store, event.StatusPublished, 5)
	ctx := context.Background()
	if _, err := l.Register(ctx, studentN(1), e.ID); err != nil {
		t.Fatalf("register: %v", err)
	}

	regs, err := l.ListByEvent(ctx, deptAdmin, e.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(regs) != 1 {
		t.Fatalf("expected one registration, got %d", len(regs))
	}
	if _, err := l.ListByEvent(ctx, groupAdmin, e.ID); !errors.Is(err, permission.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	mine, err := l.ListForUser(ctx, studentN(1))
	if err != nil || len(mine) != 1 {
		t.Fatalf("list for user: %v %d", err, len(mine))
	}
}
