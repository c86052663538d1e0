package auth

import "time"

// Role is the closed set of account roles.
type Role string

const (
	RoleSuperAdmin      Role = "SUPER_ADMIN"
	RoleDepartmentAdmin Role = "DEPARTMENT_ADMIN"
	RoleGroupAdmin      Role = "GROUP_ADMIN"
	RoleStudent         Role = "STUDENT"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleDepartmentAdmin, RoleGroupAdmin, RoleStudent:
		return true
	}
	return false
}

// User is an account as loaded from storage.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	DepartmentID string    `json:"department_id,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RefreshToken is the persisted half of an opaque refresh token. Only the
// SHA-256 of the secret part is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}
