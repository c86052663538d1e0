package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"campushub.org/internal/auth"
	"campushub.org/internal/obs"
)

var demoAccounts = []auth.User{
	{Email: "super@campus.edu", Name: "Campus Super Admin", Role: auth.RoleSuperAdmin},
	{Email: "dept@campus.edu", Name: "CS Department Admin", Role: auth.RoleDepartmentAdmin, DepartmentID: "cs"},
	{Email: "group@campus.edu", Name: "Robotics Club Admin", Role: auth.RoleGroupAdmin, DepartmentID: "cs"},
	{Email: "student@campus.edu", Name: "Demo Student", Role: auth.RoleStudent, DepartmentID: "cs"},
}

// seedDemo creates the demo accounts, skipping ones that already exist.
func seedDemo(ctx context.Context, svc *auth.Service, password string) error {
	for _, u := range demoAccounts {
		u.IsActive = true
		created, err := svc.Register(ctx, u, password)
		if errors.Is(err, auth.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create %s: %w", u.Email, err)
		}
		obs.Logger().Info("demo account created",
			slog.String("event", "seed.account"),
			slog.String("module", "main"),
			slog.String("email", created.Email),
			slog.String("role", string(created.Role)),
		)
	}
	return nil
}
