package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"campushub.org/internal/audit"
	"campushub.org/internal/auth"
	"campushub.org/internal/event"
	"campushub.org/internal/obs"
	"campushub.org/internal/permission"
	"campushub.org/internal/registration"
	"campushub.org/internal/stream"
)

const serviceName = "campushub-api"

// Pinger is satisfied by the storage backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks that storage answers.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps wires the domain services into the HTTP layer.
type Deps struct {
	Auth          *auth.Service
	Permissions   *permission.Service
	Events        *event.Service
	Registrations *registration.Ledger
	Stream        *stream.Stream
	Ready         readinessChecker
	Version       string

	CookieSecure    bool
	LoginRateBurst  int
	LoginRatePerSec int
	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []netip.Prefix
}

// API is the HTTP surface.
type API struct {
	mux     *http.ServeMux
	auth    *auth.Service
	perms   *permission.Service
	events  *event.Service
	ledger  *registration.Ledger
	stream  *stream.Stream
	ready   readinessChecker
	version string
	secure  bool
}

func New(d Deps) *API {
	a := &API{
		mux:     http.NewServeMux(),
		auth:    d.Auth,
		perms:   d.Permissions,
		events:  d.Events,
		ledger:  d.Registrations,
		stream:  d.Stream,
		ready:   d.Ready,
		version: d.Version,
		secure:  d.CookieSecure,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	burst, perSec := d.LoginRateBurst, d.LoginRatePerSec
	if burst <= 0 {
		burst = 10
	}
	if perSec <= 0 {
		perSec = 5
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.Handle("/v1/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), burst, perSec, d.TrustedProxies...))
	a.mux.HandleFunc("/v1/auth/refresh-token", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.Handle("/v1/auth/me", a.withAuth(a.handleMe))

	// events and registrations
	a.mux.Handle("/v1/events", a.withAuth(a.handleEvents))
	a.mux.Handle("/v1/events/", a.withAuth(a.handleEventResource))
	a.mux.Handle("/v1/me/registrations", a.withAuth(a.handleMyRegistrations))

	// group admin grants
	a.mux.Handle("/v1/group-admins/", a.withAuth(a.handleGroupAdminPermissions))

	a.mux.Handle("/v1/stream/events", a.withAuth(a.Stream))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "route not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- envelope ---

const maxBodyBytes = 1 << 20

type envelope struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

type errorBody struct {
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, r *http.Request, code int, message string, data any) {
	writeJSON(w, code, envelope{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, errCode, message string) {
	writeErrorFields(w, r, code, errCode, message, nil)
}

func writeErrorFields(w http.ResponseWriter, r *http.Request, code int, errCode, message string, fields map[string]string) {
	writeJSON(w, code, envelope{
		Success:   false,
		Message:   message,
		Error:     &errorBody{Code: errCode, Fields: fields},
		Timestamp: time.Now().UTC(),
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, r, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// decodeOptionalJSON treats an empty body as a zero value.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, fmt.Errorf("must be between %d and %d", min, max)
	}
	return v, nil
}

// splitResource returns the id and optional action below prefix,
// e.g. "/v1/events/abc/submit" -> ("abc", "submit").
func splitResource(path, prefix string) (id, action string, ok bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], parts[1] != ""
	}
	return "", "", false
}
