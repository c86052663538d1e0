// Package pg implements the storage interfaces on PostgreSQL through the pgx
// database/sql driver.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"campushub.org/internal/auth"
	"campushub.org/internal/permission"
)

// Migrations holds the schema and demo seed data, applied by internal/migrate.
//
//go:embed migrations/*.sql seeds/*.sql
var Migrations embed.FS

const (
	// MigrationsDir is the directory of Migrations holding the schema files.
	MigrationsDir = "migrations"
	// SeedsDir holds demo data loaded by "migrate seed".
	SeedsDir = "seeds"
)

const pgErrUniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

var (
	_ auth.Store            = (*Store)(nil)
	_ permission.GrantStore = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Users ---------------------------------------------------------------------

const userColumns = `id, email, name, password_hash, role, department_id, is_active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*auth.User, error) {
	var u auth.User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.DepartmentID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, name, password_hash, role, department_id, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		returning created_at, updated_at
	`, u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.DepartmentID, u.IsActive, timeOrNow(u.CreatedAt))
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, id string) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

// UpdateUser replaces a user's role, department and active flag.
func (s *Store) UpdateUser(ctx context.Context, u auth.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users set role = $2, department_id = $3, is_active = $4, updated_at = now()
		where id = $1
	`, u.ID, string(u.Role), u.DepartmentID, u.IsActive)
	if err != nil {
		return err
	}
	return requireRow(res, auth.ErrNotFound)
}

// Refresh tokens ------------------------------------------------------------

func (s *Store) CreateRefreshToken(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, timeOrNow(tok.CreatedAt))
	return err
}

func (s *Store) FindRefreshToken(ctx context.Context, id string) (*auth.RefreshToken, error) {
	var t auth.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at
		from refresh_tokens where id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteRefreshToken is the rotation point: only one caller can remove a row.
func (s *Store) DeleteRefreshToken(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, auth.ErrNotFound)
}

func (s *Store) DeleteRefreshTokensByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, userID)
	return err
}

// Grants --------------------------------------------------------------------

func (s *Store) GrantsForUser(ctx context.Context, userID string) ([]permission.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, permission, is_granted, granted_by, updated_at
		from group_admin_permissions
		where user_id = $1
		order by permission
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []permission.Grant
	for rows.Next() {
		var g permission.Grant
		var key string
		if err := rows.Scan(&g.UserID, &key, &g.IsGranted, &g.GrantedBy, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Key = permission.Key(key)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) UpsertGrant(ctx context.Context, g permission.Grant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into group_admin_permissions (user_id, permission, is_granted, granted_by, updated_at)
		values ($1, $2, $3, $4, $5)
		on conflict (user_id, permission) do update
		set is_granted = excluded.is_granted,
		    granted_by = excluded.granted_by,
		    updated_at = excluded.updated_at
	`, g.UserID, string(g.Key), g.IsGranted, g.GrantedBy, timeOrNow(g.UpdatedAt))
	return err
}

// helpers -------------------------------------------------------------------

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// placeholder returns the positional parameter for the last element of args.
func placeholder(args []any) string {
	return "$" + strconv.Itoa(len(args))
}
