package permission

import (
	"context"
	"errors"
	"sync"
	"testing"

	"campushub.org/internal/auth"
	"campushub.org/internal/validate"
)

type memGrants struct {
	mu   sync.Mutex
	rows map[string]map[Key]Grant
	hits int
}

func (m *memGrants) GrantsForUser(_ context.Context, userID string) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
	var out []Grant
	for _, g := range m.rows[userID] {
		out = append(out, g)
	}
	return out, nil
}

func (m *memGrants) UpsertGrant(_ context.Context, g Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = map[string]map[Key]Grant{}
	}
	if m.rows[g.UserID] == nil {
		m.rows[g.UserID] = map[Key]Grant{}
	}
	m.rows[g.UserID][g.Key] = g
	return nil
}

type memUsers map[string]auth.User

func (m memUsers) FindUser(_ context.Context, id string) (*auth.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

var (
	superAdmin = auth.User{ID: "super", Role: auth.RoleSuperAdmin, IsActive: true}
	csAdmin    = auth.User{ID: "cs-admin", Role: auth.RoleDepartmentAdmin, DepartmentID: "cs", IsActive: true}
	eeAdmin    = auth.User{ID: "ee-admin", Role: auth.RoleDepartmentAdmin, DepartmentID: "ee", IsActive: true}
	csGroup    = auth.User{ID: "cs-group", Role: auth.RoleGroupAdmin, DepartmentID: "cs", IsActive: true}
	csStudent  = auth.User{ID: "cs-student", Role: auth.RoleStudent, DepartmentID: "cs", IsActive: true}
)

func newTestService() (*Service, *memGrants) {
	grants := &memGrants{}
	users := memUsers{}
	for _, u := range []auth.User{superAdmin, csAdmin, eeAdmin, csGroup, csStudent} {
		users[u.ID] = u
	}
	return NewService(grants, users), grants
}

func TestToggleGrantFlipsDecisionImmediately(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if err := svc.Authorize(ctx, csGroup, CreateEvent); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden before grant, got %v", err)
	}
	if _, err := svc.SetGrant(ctx, csAdmin, csGroup.ID, CreateEvent, true); err != nil {
		t.Fatalf("SetGrant: %v", err)
	}
	if err := svc.Authorize(ctx, csGroup, CreateEvent); err != nil {
		t.Fatalf("expected allow after grant, got %v", err)
	}
	if _, err := svc.SetGrant(ctx, csAdmin, csGroup.ID, CreateEvent, false); err != nil {
		t.Fatalf("SetGrant off: %v", err)
	}
	if err := svc.Authorize(ctx, csGroup, CreateEvent); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden after revoke, got %v", err)
	}
}

func TestAuthorizeSkipsGrantLookupForOtherRoles(t *testing.T) {
	svc, grants := newTestService()
	ctx := context.Background()
	if err := svc.Authorize(ctx, csAdmin, PublishEvent); err != nil {
		t.Fatalf("dept admin publish: %v", err)
	}
	if err := svc.Authorize(ctx, csStudent, ViewRegistrations); !errors.Is(err, ErrForbidden) {
		t.Fatalf("student must be forbidden, got %v", err)
	}
	if grants.hits != 0 {
		t.Fatalf("grant store should not be consulted, hits=%d", grants.hits)
	}
}

func TestSetGrantRules(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name    string
		actor   auth.User
		target  string
		key     Key
		wantErr error
	}{
		{"super admin any department", superAdmin, csGroup.ID, PublishEvent, nil},
		{"dept admin same department", csAdmin, csGroup.ID, ViewRegistrations, nil},
		{"dept admin other department", eeAdmin, csGroup.ID, CreateEvent, ErrForbidden},
		{"group admin cannot grant", csGroup, csGroup.ID, CreateEvent, ErrForbidden},
		{"student cannot grant", csStudent, csGroup.ID, CreateEvent, ErrForbidden},
		{"target must be group admin", csAdmin, csStudent.ID, CreateEvent, validate.ErrValidation},
		{"delegation key not grantable", csAdmin, csGroup.ID, AssignPermissions, validate.ErrValidation},
		{"unknown target", csAdmin, "missing", CreateEvent, auth.ErrNotFound},
		{"self grant", csAdmin, csAdmin.ID, CreateEvent, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SetGrant(ctx, tc.actor, tc.target, tc.key, true)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestGrantsListing(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.SetGrant(ctx, csAdmin, csGroup.ID, MarkAttendance, true); err != nil {
		t.Fatalf("SetGrant: %v", err)
	}
	list, err := svc.Grants(ctx, csAdmin, csGroup.ID)
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if len(list) != 1 || list[0].Key != MarkAttendance || !list[0].IsGranted || list[0].GrantedBy != csAdmin.ID {
		t.Fatalf("unexpected grants %+v", list)
	}
	if _, err := svc.Grants(ctx, eeAdmin, csGroup.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other department must be forbidden, got %v", err)
	}
}
