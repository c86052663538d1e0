package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"campushub.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
)

// withAuth resolves the caller from the bearer header or the access cookie
// and reloads the user so role and department are current.
func (a *API) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := requestToken(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, err.Error())
			return
		}

		user, err := a.auth.AuthenticateToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "invalid or expired token")
			default:
				writeError(w, r, http.StatusInternalServerError, codeInternal, "authentication error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), user)))
	})
}

// currentUser returns the caller placed on the context by withAuth.
func currentUser(r *http.Request) auth.User {
	u, _ := auth.UserFromContext(r.Context())
	return u
}

func requestToken(r *http.Request) (string, error) {
	if h := strings.TrimSpace(r.Header.Get(authHeader)); h != "" {
		return extractBearerToken(h)
	}
	if c, err := r.Cookie(accessCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), nil
	}
	return "", errors.New("missing bearer token")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
