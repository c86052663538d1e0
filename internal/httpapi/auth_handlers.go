package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"campushub.org/internal/audit"
	"campushub.org/internal/auth"
)

const refreshCookiePath = "/v1/auth"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	User             auth.User `json:"user"`
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeErrorFields(w, r, http.StatusBadRequest, codeValidation, "email and password are required", map[string]string{
			"email":    "is required",
			"password": "is required",
		})
		return
	}

	pair, user, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			_ = audit.LogEvent(r.Context(), "auth.login.failed", slog.String("email", strings.ToLower(strings.TrimSpace(req.Email))))
			writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "invalid email or password")
			return
		}
		writeDomainError(w, r, err)
		return
	}

	ctx := auth.ContextWithUser(r.Context(), user)
	_ = audit.LogEvent(ctx, "auth.login")
	a.setSessionCookies(w, pair)
	writeData(w, r, http.StatusOK, "login successful", sessionResponse{
		User:             user,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	raw, err := refreshTokenFrom(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if raw == "" {
		writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "refresh token is required")
		return
	}

	pair, user, err := a.auth.Refresh(r.Context(), raw)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			a.clearSessionCookies(w)
			writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "invalid or expired refresh token")
			return
		}
		writeDomainError(w, r, err)
		return
	}

	a.setSessionCookies(w, pair)
	writeData(w, r, http.StatusOK, "token refreshed", sessionResponse{
		User:             user,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	raw, err := refreshTokenFrom(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if raw != "" {
		if err := a.auth.Logout(r.Context(), raw); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	_ = audit.LogEvent(r.Context(), "auth.logout")
	a.clearSessionCookies(w)
	writeData(w, r, http.StatusOK, "logged out", nil)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeData(w, r, http.StatusOK, "current user", currentUser(r))
}

// refreshTokenFrom prefers the HttpOnly cookie and falls back to the body.
func refreshTokenFrom(r *http.Request) (string, error) {
	if c, err := r.Cookie(refreshCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), nil
	}
	var req refreshRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		return "", err
	}
	return strings.TrimSpace(req.RefreshToken), nil
}

func (a *API) setSessionCookies(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		Expires:  pair.AccessExpiresAt,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    pair.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearSessionCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{{accessCookie, "/"}, {refreshCookie, refreshCookiePath}} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   a.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}
