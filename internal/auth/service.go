package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"campushub.org/internal/ids"
	"campushub.org/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultIssuer     = "campushub"
	tokenTypeAccess   = "access"
)

// Store is the persistence required by Service.
type Store interface {
	UserStore
	RefreshTokenStore
}

// Service issues, rotates and verifies session tokens.
type Service struct {
	store      Store
	hasher     *Hasher
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Claims is the access token payload. The token identifies the user; role and
// department are informational and re-read from storage on every request.
type Claims struct {
	Role         Role   `json:"role"`
	DepartmentID string `json:"department_id,omitempty"`
	TokenType    string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithHasher overrides the password hasher.
func WithHasher(h *Hasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service signing access tokens with secret (HS256).
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	svc := &Service{
		store:      store,
		hasher:     NewHasher(0),
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Hasher exposes the configured password hasher.
func (s *Service) Hasher() *Hasher { return s.hasher }

// Register creates an account with a hashed password.
func (s *Service) Register(ctx context.Context, u User, password string) (User, error) {
	u.Email = normalizeEmail(u.Email)
	if u.Email == "" || !u.Role.Valid() {
		return User{}, ErrInvalidInput
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	u.PasswordHash = hash
	now := s.now().UTC()
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.CreatedAt, u.UpdatedAt = now, now
	if err := s.store.CreateUser(ctx, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Login verifies credentials and issues a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, User{}, ErrUnauthenticated
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, User{}, ErrUnauthenticated
		}
		return TokenPair{}, User{}, err
	}
	if !user.IsActive {
		return TokenPair{}, User{}, ErrUnauthenticated
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return TokenPair{}, User{}, ErrUnauthenticated
	}
	pair, err := s.mintTokens(ctx, *user)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	return pair, *user, nil
}

// Refresh rotates a refresh token: the presented row is deleted and a new
// pair is issued. Unknown, expired or already rotated tokens yield ErrInvalidToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, User, error) {
	pair, user, err := s.refresh(ctx, refreshToken)
	switch {
	case err == nil:
		obs.ObserveRefresh("rotated")
	case errors.Is(err, ErrInvalidToken):
		obs.ObserveRefresh("rejected")
	default:
		obs.ObserveRefresh("error")
	}
	return pair, user, err
}

func (s *Service) refresh(ctx context.Context, refreshToken string) (TokenPair, User, error) {
	record, err := s.lookupRefreshToken(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	if !s.now().Before(record.ExpiresAt) {
		_ = s.store.DeleteRefreshToken(ctx, record.ID)
		return TokenPair{}, User{}, ErrInvalidToken
	}

	user, err := s.store.FindUser(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, User{}, ErrInvalidToken
		}
		return TokenPair{}, User{}, err
	}
	if !user.IsActive {
		_ = s.store.DeleteRefreshTokensByUser(ctx, user.ID)
		return TokenPair{}, User{}, ErrInvalidToken
	}

	if err := s.store.DeleteRefreshToken(ctx, record.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, User{}, ErrInvalidToken
		}
		return TokenPair{}, User{}, err
	}

	pair, err := s.mintTokens(ctx, *user)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	return pair, *user, nil
}

// Logout deletes the stored refresh token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	record, err := s.lookupRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil
		}
		return err
	}
	if err := s.store.DeleteRefreshToken(ctx, record.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// AuthenticateToken verifies an access token and reloads its user, so role
// changes and deactivation apply before the token expires.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (User, error) {
	claims, err := s.ParseAccessToken(token)
	if err != nil {
		return User{}, ErrInvalidToken
	}
	user, err := s.store.FindUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidToken
		}
		return User{}, err
	}
	if !user.IsActive {
		return User{}, ErrInvalidToken
	}
	return *user, nil
}

// ParseAccessToken validates signature, issuer, type and expiry.
func (s *Service) ParseAccessToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.TokenType != tokenTypeAccess || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) mintTokens(ctx context.Context, user User) (TokenPair, error) {
	now := s.now()
	access, accessExp, err := s.signAccessToken(user, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, rec, err := s.generateRefreshToken(user.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.CreateRefreshToken(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	obs.Logger().Debug("session issued",
		slog.String("event", "auth.session.issued"),
		slog.String("module", "auth"),
		slog.String("user_id", user.ID),
		slog.String("refresh_id", rec.ID),
	)
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) signAccessToken(user User, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Role:         user.Role,
		DepartmentID: user.DepartmentID,
		TokenType:    tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer,
			ID:        ids.New(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (s *Service) generateRefreshToken(userID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hashSecret(secret),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	return rec.ID + "." + secret, rec, nil
}

func (s *Service) lookupRefreshToken(ctx context.Context, raw string) (*RefreshToken, error) {
	tokenID, secret, err := splitRefreshToken(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	record, err := s.store.FindRefreshToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !secureCompareHash(record.TokenHash, secret) {
		return nil, ErrInvalidToken
	}
	return record, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	if !ids.Valid(parts[0]) {
		return "", "", errors.New("invalid refresh token id")
	}
	return parts[0], parts[1], nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expectedHash, secret string) bool {
	actual := hashSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
