package event

import (
	"errors"
	"slices"
	"testing"
	"time"

	"campushub.org/internal/auth"
	"campushub.org/internal/permission"
	"campushub.org/internal/validate"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var (
	superAdmin = auth.User{ID: "sa", Role: auth.RoleSuperAdmin, IsActive: true}
	deptAdmin  = auth.User{ID: "da", Role: auth.RoleDepartmentAdmin, DepartmentID: "cs", IsActive: true}
	otherDept  = auth.User{ID: "dx", Role: auth.RoleDepartmentAdmin, DepartmentID: "math", IsActive: true}
	creator    = auth.User{ID: "ga", Role: auth.RoleGroupAdmin, DepartmentID: "cs", IsActive: true}
	otherGroup = auth.User{ID: "gb", Role: auth.RoleGroupAdmin, DepartmentID: "cs", IsActive: true}
	student    = auth.User{ID: "st", Role: auth.RoleStudent, DepartmentID: "cs", IsActive: true}
)

func completeEvent(status Status) Event {
	return Event{
		ID:                   "e1",
		Title:                "Robotics Expo",
		Description:          "Annual showcase",
		Venue:                "Main Hall",
		Status:               status,
		DepartmentID:         "cs",
		CreatorID:            "ga",
		MaxCapacity:          10,
		RegistrationDeadline: testNow.Add(24 * time.Hour),
		Date:                 testNow.Add(48 * time.Hour),
		CreatedAt:            testNow.Add(-time.Hour),
		UpdatedAt:            testNow.Add(-time.Hour),
	}
}

func allStatuses() []Status {
	return []Status{
		StatusDraft, StatusPendingApproval, StatusApproved, StatusPublished,
		StatusRegistrationClosed, StatusOngoing, StatusCompleted, StatusArchived,
	}
}

func TestTransitionTableIsExhaustive(t *testing.T) {
	actors := []auth.User{superAdmin, deptAdmin, otherDept, creator, otherGroup, student}
	allowed := map[edge]map[string]bool{
		{StatusDraft, StatusPendingApproval}:        {"ga": true, "da": true},
		{StatusPendingApproval, StatusApproved}:     {"sa": true, "da": true},
		{StatusPendingApproval, StatusDraft}:        {"sa": true, "da": true},
		{StatusApproved, StatusPublished}:           {"sa": true, "da": true},
		{StatusPublished, StatusRegistrationClosed}: {"ga": true, "da": true},
		{StatusRegistrationClosed, StatusOngoing}:   {"ga": true, "da": true},
		{StatusOngoing, StatusCompleted}:            {"ga": true, "da": true},
		{StatusCompleted, StatusArchived}:           {"sa": true, "da": true},
	}

	for _, from := range allStatuses() {
		for _, to := range allStatuses() {
			for _, u := range actors {
				e := completeEvent(from)
				next, change, err := Transition(e, Request{Actor: Actor{User: u}, To: to, Reason: "needs a venue map", Now: testNow})
				want := allowed[edge{from, to}][u.ID]
				if want {
					if err != nil {
						t.Errorf("%s -> %s by %s: unexpected error %v", from, to, u.ID, err)
						continue
					}
					if next.Status != to || change.From != from || change.To != to || change.ActorID != u.ID {
						t.Errorf("%s -> %s by %s: unexpected result %+v %+v", from, to, u.ID, next, change)
					}
					continue
				}
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("%s -> %s by %s: expected ErrInvalidTransition, got %v", from, to, u.ID, err)
				}
				if next != e {
					t.Errorf("%s -> %s by %s: event mutated on failure", from, to, u.ID)
				}
			}
		}
	}
}

func TestRejectionRequiresFeedback(t *testing.T) {
	e := completeEvent(StatusPendingApproval)
	next, _, err := Transition(e, Request{Actor: Actor{User: deptAdmin}, To: StatusDraft, Reason: "   ", Now: testNow})
	if !errors.Is(err, validate.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if next != e {
		t.Fatal("event mutated on failed rejection")
	}

	rejected, change, err := Transition(e, Request{Actor: Actor{User: deptAdmin}, To: StatusDraft, Reason: "add a description", Now: testNow})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.RejectionReason != "add a description" || change.Reason != "add a description" {
		t.Fatalf("feedback not recorded: %+v %+v", rejected, change)
	}

	resubmitted, _, err := Transition(rejected, Request{Actor: Actor{User: creator}, To: StatusPendingApproval, Now: testNow})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if resubmitted.RejectionReason != "" {
		t.Fatalf("resubmission should clear feedback, got %q", resubmitted.RejectionReason)
	}
}

func TestSubmitRequiresCompleteEvent(t *testing.T) {
	e := completeEvent(StatusDraft)
	e.Venue = ""
	_, _, err := Transition(e, Request{Actor: Actor{User: creator}, To: StatusPendingApproval, Now: testNow})
	var verr *validate.Error
	if !errors.As(err, &verr) || verr.Fields["venue"] == "" {
		t.Fatalf("expected venue validation error, got %v", err)
	}
}

func TestPublishRequiresFutureDeadline(t *testing.T) {
	e := completeEvent(StatusApproved)
	e.RegistrationDeadline = testNow.Add(-time.Minute)
	_, _, err := Transition(e, Request{Actor: Actor{User: deptAdmin}, To: StatusPublished, Now: testNow})
	if !errors.Is(err, validate.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSystemActorOnlyDrivesAutomaticEdges(t *testing.T) {
	e := completeEvent(StatusPublished)
	next, change, err := Transition(e, Request{Actor: Actor{System: true}, To: StatusRegistrationClosed, Now: testNow})
	if err != nil {
		t.Fatalf("system close: %v", err)
	}
	if next.Status != StatusRegistrationClosed || change.ActorID != SystemActorID {
		t.Fatalf("unexpected system transition %+v %+v", next, change)
	}

	_, _, err = Transition(completeEvent(StatusPendingApproval), Request{Actor: Actor{System: true}, To: StatusApproved, Now: testNow})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("system approval must be rejected, got %v", err)
	}
}

func TestEffectiveStatus(t *testing.T) {
	tests := []struct {
		name string
		mod  func(e *Event)
		now  time.Time
		want Status
	}{
		{"published open", func(e *Event) { e.Status = StatusPublished }, testNow, StatusPublished},
		{"published full", func(e *Event) { e.Status = StatusPublished; e.CurrentRegistrations = 10 }, testNow, StatusRegistrationClosed},
		{"deadline passed", func(e *Event) { e.Status = StatusPublished }, testNow.Add(25 * time.Hour), StatusRegistrationClosed},
		{"date reached", func(e *Event) { e.Status = StatusPublished }, testNow.Add(48 * time.Hour), StatusOngoing},
		{"closed before date", func(e *Event) { e.Status = StatusRegistrationClosed }, testNow, StatusRegistrationClosed},
		{"draft untouched", func(e *Event) { e.Status = StatusDraft }, testNow.Add(72 * time.Hour), StatusDraft},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := completeEvent(StatusDraft)
			tt.mod(&e)
			if got := EffectiveStatus(e, tt.now); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRequiredPermission(t *testing.T) {
	if key, ok := RequiredPermission(StatusApproved, StatusPublished); !ok || key != permission.PublishEvent {
		t.Fatalf("publish gate: %v %v", key, ok)
	}
	if key, ok := RequiredPermission(StatusOngoing, StatusCompleted); !ok || key != permission.MarkAttendance {
		t.Fatalf("complete gate: %v %v", key, ok)
	}
	if _, ok := RequiredPermission(StatusDraft, StatusPendingApproval); ok {
		t.Fatal("submission has no gate")
	}
	if _, ok := RequiredPermission(StatusDraft, StatusArchived); ok {
		t.Fatal("unknown edge has no gate")
	}
}

func TestCanManage(t *testing.T) {
	e := completeEvent(StatusDraft)
	cases := map[string]bool{"sa": true, "da": true, "dx": false, "ga": true, "gb": false, "st": false}
	for _, u := range []auth.User{superAdmin, deptAdmin, otherDept, creator, otherGroup, student} {
		if got := CanManage(u, e); got != cases[u.ID] {
			t.Errorf("%s: expected %v, got %v", u.ID, cases[u.ID], got)
		}
	}
}

func TestSettleSourcesCoverSettlement(t *testing.T) {
	at := []time.Time{testNow, testNow.Add(30 * time.Hour), testNow.Add(72 * time.Hour)}
	for _, from := range allStatuses() {
		for _, now := range at {
			e := completeEvent(from)
			for i := 0; i < 4; i++ {
				next, ok := settleTarget(e, now)
				if !ok {
					break
				}
				e.Status = next
			}
			if !slices.Contains(settleSources(e.Status), from) {
				t.Errorf("%s settles into %s at %s but is not listed as a source", from, e.Status, now)
			}
		}
	}
}

func TestCanView(t *testing.T) {
	for _, s := range allStatuses() {
		e := completeEvent(s)
		if got := CanView(student, e); got != s.Public() {
			t.Errorf("student on %s: expected %v, got %v", s, s.Public(), got)
		}
		for _, u := range []auth.User{superAdmin, deptAdmin, otherDept, creator} {
			if !CanView(u, e) {
				t.Errorf("%s on %s: expected visible", u.ID, s)
			}
		}
	}
	if CanView(auth.User{ID: "x"}, completeEvent(StatusDraft)) {
		t.Error("account without a role must not see drafts")
	}
}
