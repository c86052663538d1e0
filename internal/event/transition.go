package event

import (
	"strings"
	"time"

	"campushub.org/internal/auth"
	"campushub.org/internal/permission"
	"campushub.org/internal/validate"
)

// SystemActorID marks status changes applied by lazy settlement.
const SystemActorID = "system"

// Actor is whoever requests a transition. System is set only for automatic
// transitions driven by deadlines and dates.
type Actor struct {
	User   auth.User
	System bool
}

// Request is the input of Transition.
type Request struct {
	Actor  Actor
	To     Status
	Reason string
	Now    time.Time
}

type edge struct {
	from, to Status
}

type rule struct {
	actors   func(a Actor, e Event) bool
	system   bool
	gate     permission.Key
	precheck func(e Event, r Request) error
}

// transitions is the single source of legal status changes.
var transitions = map[edge]rule{
	{StatusDraft, StatusPendingApproval}: {
		actors:   owner,
		precheck: func(e Event, _ Request) error { return checkComplete(e) },
	},
	{StatusPendingApproval, StatusApproved}: {
		actors: approver,
	},
	{StatusPendingApproval, StatusDraft}: {
		actors: approver,
		precheck: func(_ Event, r Request) error {
			if strings.TrimSpace(r.Reason) == "" {
				return validate.Field("feedback", "is required when rejecting")
			}
			return nil
		},
	},
	{StatusApproved, StatusPublished}: {
		actors: approver,
		gate:   permission.PublishEvent,
		precheck: func(e Event, r Request) error {
			if !e.RegistrationDeadline.After(r.Now) {
				return validate.Field("registration_deadline", "must be in the future to publish")
			}
			return nil
		},
	},
	{StatusPublished, StatusRegistrationClosed}: {
		actors: owner,
		system: true,
		gate:   permission.CloseEvent,
	},
	{StatusRegistrationClosed, StatusOngoing}: {
		actors: owner,
		system: true,
	},
	{StatusOngoing, StatusCompleted}: {
		actors: owner,
		gate:   permission.MarkAttendance,
	},
	{StatusCompleted, StatusArchived}: {
		actors: approver,
	},
}

// owner is the creating group admin, or a department admin of the event's
// department.
func owner(a Actor, e Event) bool {
	switch a.User.Role {
	case auth.RoleGroupAdmin:
		return a.User.ID != "" && a.User.ID == e.CreatorID
	case auth.RoleDepartmentAdmin:
		return a.User.DepartmentID != "" && a.User.DepartmentID == e.DepartmentID
	}
	return false
}

// approver is a department admin of the event's department or a super admin.
func approver(a Actor, e Event) bool {
	switch a.User.Role {
	case auth.RoleSuperAdmin:
		return true
	case auth.RoleDepartmentAdmin:
		return a.User.DepartmentID != "" && a.User.DepartmentID == e.DepartmentID
	}
	return false
}

// CanManage applies the ownership rule used outside transitions: department
// and super admins act on events in scope, group admins only on their own.
func CanManage(u auth.User, e Event) bool {
	if u.Role == auth.RoleSuperAdmin {
		return true
	}
	return owner(Actor{User: u}, e)
}

// RequiredPermission names the capability a caller must hold before the
// from→to change is attempted, if any.
func RequiredPermission(from, to Status) (permission.Key, bool) {
	r, ok := transitions[edge{from, to}]
	if !ok || r.gate == "" {
		return "", false
	}
	return r.gate, true
}

// Transition returns e moved to req.To, or an error leaving e untouched.
// Illegal edges and unlisted actors yield ErrInvalidTransition; failed
// preconditions yield a *validate.Error.
func Transition(e Event, req Request) (Event, StatusChange, error) {
	r, ok := transitions[edge{e.Status, req.To}]
	if !ok {
		return e, StatusChange{}, ErrInvalidTransition
	}
	if req.Actor.System {
		if !r.system {
			return e, StatusChange{}, ErrInvalidTransition
		}
	} else if !r.actors(req.Actor, e) {
		return e, StatusChange{}, ErrInvalidTransition
	}
	if r.precheck != nil {
		if err := r.precheck(e, req); err != nil {
			return e, StatusChange{}, err
		}
	}

	next := e
	next.Status = req.To
	next.UpdatedAt = req.Now.UTC()
	reason := strings.TrimSpace(req.Reason)
	switch {
	case e.Status == StatusPendingApproval && req.To == StatusDraft:
		next.RejectionReason = reason
	case req.To == StatusPendingApproval:
		next.RejectionReason = ""
	}

	actorID := req.Actor.User.ID
	if req.Actor.System {
		actorID = SystemActorID
	}
	change := StatusChange{
		EventID: e.ID,
		From:    e.Status,
		To:      req.To,
		ActorID: actorID,
		Reason:  reason,
		At:      req.Now.UTC(),
	}
	return next, change, nil
}

// settleTarget is the automatic transition due at now, if any.
func settleTarget(e Event, now time.Time) (Status, bool) {
	switch e.Status {
	case StatusPublished:
		if now.After(e.RegistrationDeadline) {
			return StatusRegistrationClosed, true
		}
	case StatusRegistrationClosed:
		if !e.Date.IsZero() && !now.Before(e.Date) {
			return StatusOngoing, true
		}
	}
	return "", false
}

// settleSources lists the stored statuses that may settle into target.
func settleSources(target Status) []Status {
	switch target {
	case StatusRegistrationClosed:
		return []Status{StatusPublished, StatusRegistrationClosed}
	case StatusOngoing:
		return []Status{StatusPublished, StatusRegistrationClosed, StatusOngoing}
	}
	return []Status{target}
}

// EffectiveStatus is the status a reader should see at now. A published event
// with every seat taken reads as closed without being persisted as closed, so
// a cancellation reopens it.
func EffectiveStatus(e Event, now time.Time) Status {
	status := e.Status
	for i := 0; i < 2; i++ {
		next, ok := settleTarget(Event{Status: status, RegistrationDeadline: e.RegistrationDeadline, Date: e.Date}, now)
		if !ok {
			break
		}
		status = next
	}
	if status == StatusPublished && e.Full() {
		return StatusRegistrationClosed
	}
	return status
}
