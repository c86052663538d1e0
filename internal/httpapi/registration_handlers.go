package httpapi

import (
	"log/slog"
	"net/http"
	"strings"

	"campushub.org/internal/audit"
	"campushub.org/internal/registration"
)

type attendanceRequest struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request, eventID string) {
	switch r.Method {
	case http.MethodPost:
		reg, err := a.ledger.Register(r.Context(), currentUser(r), eventID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "registration.created", slog.String("event_id", eventID))
		writeData(w, r, http.StatusCreated, "registered for event", reg)
	case http.MethodDelete:
		if err := a.ledger.Cancel(r.Context(), currentUser(r), eventID); err != nil {
			writeDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "registration.cancelled", slog.String("event_id", eventID))
		writeData(w, r, http.StatusOK, "registration cancelled", nil)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) listEventRegistrations(w http.ResponseWriter, r *http.Request, eventID string) {
	regs, err := a.ledger.ListByEvent(r.Context(), currentUser(r), eventID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "event registrations", nonNil(regs))
}

func (a *API) markAttendance(w http.ResponseWriter, r *http.Request, eventID string) {
	var req attendanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeErrorFields(w, r, http.StatusBadRequest, codeValidation, "validation failed", map[string]string{"user_id": "is required"})
		return
	}
	status := registration.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	reg, err := a.ledger.MarkAttendance(r.Context(), currentUser(r), eventID, userID, status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "registration.attendance",
		slog.String("event_id", eventID),
		slog.String("attendee_id", userID),
		slog.String("status", string(status)),
	)
	writeData(w, r, http.StatusOK, "attendance recorded", reg)
}

func (a *API) handleMyRegistrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	regs, err := a.ledger.ListForUser(r.Context(), currentUser(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "my registrations", nonNil(regs))
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
