package permission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"campushub.org/internal/auth"
	"campushub.org/internal/obs"
	"campushub.org/internal/validate"
)

// ErrForbidden is returned when a valid session lacks a capability.
var ErrForbidden = errors.New("permission: forbidden")

// GrantStore persists group admin grants.
type GrantStore interface {
	GrantsForUser(ctx context.Context, userID string) ([]Grant, error)
	UpsertGrant(ctx context.Context, g Grant) error
}

// UserLookup loads grant targets.
type UserLookup interface {
	FindUser(ctx context.Context, id string) (*auth.User, error)
}

// Service layers grant storage over Resolve.
type Service struct {
	grants GrantStore
	users  UserLookup
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(grants GrantStore, users UserLookup) *Service {
	return &Service{grants: grants, users: users, now: time.Now}
}

// Authorize returns ErrForbidden unless user holds key. Grant rows are only
// loaded for group admins.
func (s *Service) Authorize(ctx context.Context, user auth.User, key Key) error {
	var grants []Grant
	if user.Role == auth.RoleGroupAdmin {
		var err error
		grants, err = s.grants.GrantsForUser(ctx, user.ID)
		if err != nil {
			return err
		}
	}
	if Resolve(user, key, grants) == Allow {
		return nil
	}
	obs.Logger().Info("permission denied",
		slog.String("event", "permission.denied"),
		slog.String("module", "permission"),
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
		slog.String("permission", string(key)),
	)
	return ErrForbidden
}

// Allowed reports the decision without error wrapping.
func (s *Service) Allowed(ctx context.Context, user auth.User, key Key) (bool, error) {
	err := s.Authorize(ctx, user, key)
	if errors.Is(err, ErrForbidden) {
		return false, nil
	}
	return err == nil, err
}

// SetGrant toggles one capability for a group admin. Only a super admin or a
// department admin of the target's department may do so, and never on themself.
func (s *Service) SetGrant(ctx context.Context, actor auth.User, targetID string, key Key, granted bool) (Grant, error) {
	if !key.Grantable() {
		return Grant{}, validate.Field("permission", "is not grantable to group admins")
	}
	target, err := s.loadTarget(ctx, actor, targetID)
	if err != nil {
		return Grant{}, err
	}
	g := Grant{
		UserID:    target.ID,
		Key:       key,
		IsGranted: granted,
		GrantedBy: actor.ID,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.grants.UpsertGrant(ctx, g); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// Grants lists a group admin's grant rows for an authorised actor.
func (s *Service) Grants(ctx context.Context, actor auth.User, targetID string) ([]Grant, error) {
	target, err := s.loadTarget(ctx, actor, targetID)
	if err != nil {
		return nil, err
	}
	return s.grants.GrantsForUser(ctx, target.ID)
}

func (s *Service) loadTarget(ctx context.Context, actor auth.User, targetID string) (*auth.User, error) {
	if err := s.Authorize(ctx, actor, AssignPermissions); err != nil {
		return nil, err
	}
	if actor.ID == targetID {
		return nil, ErrForbidden
	}
	target, err := s.users.FindUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Role != auth.RoleGroupAdmin || !target.IsActive {
		return nil, validate.Field("user_id", "must reference an active group admin")
	}
	if actor.Role == auth.RoleDepartmentAdmin && actor.DepartmentID != target.DepartmentID {
		return nil, ErrForbidden
	}
	return target, nil
}
