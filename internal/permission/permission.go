// Package permission decides whether a user may perform an administrative
// action. Department admins hold a fixed capability set; group admins hold
// only what has been explicitly granted to them.
package permission

import (
	"time"

	"campushub.org/internal/auth"
)

// Key names an administrative capability.
type Key string

const (
	CreateEvent       Key = "CREATE_EVENT"
	UpdateEvent       Key = "UPDATE_EVENT"
	DeleteEvent       Key = "DELETE_EVENT"
	PublishEvent      Key = "PUBLISH_EVENT"
	CloseEvent        Key = "CLOSE_EVENT"
	MarkAttendance    Key = "MARK_ATTENDANCE"
	DeclareWinners    Key = "DECLARE_WINNERS"
	ManageGroupAdmins Key = "MANAGE_GROUP_ADMINS"
	AssignPermissions Key = "ASSIGN_PERMISSIONS"
	ViewRegistrations Key = "VIEW_REGISTRATIONS"
)

// departmentAdminSet is closed; it is never derived from grant rows.
var departmentAdminSet = map[Key]struct{}{
	CreateEvent:       {},
	UpdateEvent:       {},
	DeleteEvent:       {},
	PublishEvent:      {},
	CloseEvent:        {},
	MarkAttendance:    {},
	DeclareWinners:    {},
	ManageGroupAdmins: {},
	AssignPermissions: {},
	ViewRegistrations: {},
}

// Known reports whether k is a recognised capability.
func (k Key) Known() bool {
	_, ok := departmentAdminSet[k]
	return ok
}

// Grantable reports whether k may be granted to a group admin. Managing
// other admins and delegating grants stay with department admins.
func (k Key) Grantable() bool {
	return k.Known() && k != ManageGroupAdmins && k != AssignPermissions
}

// All returns every known key in declaration order.
func All() []Key {
	return []Key{
		CreateEvent, UpdateEvent, DeleteEvent, PublishEvent, CloseEvent,
		MarkAttendance, DeclareWinners, ManageGroupAdmins, AssignPermissions, ViewRegistrations,
	}
}

// Grant opts a group admin into one capability.
type Grant struct {
	UserID    string    `json:"user_id"`
	Key       Key       `json:"permission"`
	IsGranted bool      `json:"is_granted"`
	GrantedBy string    `json:"granted_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decision is the outcome of Resolve.
type Decision bool

const (
	Deny  Decision = false
	Allow Decision = true
)

// Resolve maps a user, a requested capability and that user's grants to a
// decision. It has no side effects and never looks at event state.
func Resolve(user auth.User, requested Key, grants []Grant) Decision {
	switch user.Role {
	case auth.RoleSuperAdmin:
		return Allow
	case auth.RoleDepartmentAdmin:
		if _, ok := departmentAdminSet[requested]; ok {
			return Allow
		}
		return Deny
	case auth.RoleGroupAdmin:
		for _, g := range grants {
			if g.UserID == user.ID && g.Key == requested && g.IsGranted {
				return Allow
			}
		}
		return Deny
	default:
		return Deny
	}
}
