package httpapi

import (
	"log/slog"
	"net/http"
	"strings"

	"campushub.org/internal/audit"
	"campushub.org/internal/auth"
	"campushub.org/internal/event"
)

const eventsPrefix = "/v1/events/"

// statusActions maps POST /v1/events/{id}/{action} onto the target status.
var statusActions = map[string]event.Status{
	"submit":   event.StatusPendingApproval,
	"publish":  event.StatusPublished,
	"close":    event.StatusRegistrationClosed,
	"start":    event.StatusOngoing,
	"complete": event.StatusCompleted,
	"archive":  event.StatusArchived,
}

type approvalRequest struct {
	Action   string `json:"action"`
	Feedback string `json:"feedback"`
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listEvents(w, r)
	case http.MethodPost:
		a.createEvent(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 50, 1, 200)
	if err != nil {
		writeErrorFields(w, r, http.StatusBadRequest, codeValidation, "validation failed", map[string]string{"limit": err.Error()})
		return
	}
	f := event.Filter{
		Status:       event.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		DepartmentID: strings.TrimSpace(q.Get("department_id")),
		CreatorID:    strings.TrimSpace(q.Get("creator_id")),
		Statuses:     event.VisibleStatuses(currentUser(r)),
		Limit:        limit,
	}
	if f.Status != "" && !f.Status.Valid() {
		writeErrorFields(w, r, http.StatusBadRequest, codeValidation, "validation failed", map[string]string{"status": "unknown status"})
		return
	}
	events, err := a.events.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "events", events)
}

func (a *API) createEvent(w http.ResponseWriter, r *http.Request) {
	var in event.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	e, err := a.events.Create(r.Context(), currentUser(r), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "event.created", slog.String("event_id", e.ID))
	writeData(w, r, http.StatusCreated, "event created", e)
}

// handleEventResource dispatches everything below /v1/events/{id}.
func (a *API) handleEventResource(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitResource(r.URL.Path, eventsPrefix)
	if !ok {
		writeError(w, r, http.StatusNotFound, codeNotFound, "route not found")
		return
	}

	if to, ok := statusActions[action]; ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.transitionEvent(w, r, id, to, "")
		return
	}

	switch action {
	case "":
		a.handleEvent(w, r, id)
	case "approval":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.approveEvent(w, r, id)
	case "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.eventHistory(w, r, id)
	case "register":
		a.handleRegister(w, r, id)
	case "registrations":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listEventRegistrations(w, r, id)
	case "attendance":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.markAttendance(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, codeNotFound, "route not found")
	}
}

func (a *API) handleEvent(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		e, err := a.viewEvent(r, id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeData(w, r, http.StatusOK, "event", e)
	case http.MethodPut:
		var in event.Input
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		e, err := a.events.Update(r.Context(), currentUser(r), id, in)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeData(w, r, http.StatusOK, "event updated", e)
	case http.MethodDelete:
		if err := a.events.Delete(r.Context(), currentUser(r), id); err != nil {
			writeDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "event.deleted", slog.String("event_id", id))
		writeData(w, r, http.StatusOK, "event deleted", nil)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// approveEvent handles approve and reject. Only department and super admins
// review submissions.
func (a *API) approveEvent(w http.ResponseWriter, r *http.Request, id string) {
	user := currentUser(r)
	if user.Role != auth.RoleDepartmentAdmin && user.Role != auth.RoleSuperAdmin {
		writeError(w, r, http.StatusForbidden, codeForbidden, "only department admins can review events")
		return
	}
	var req approvalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "approve":
		a.transitionEvent(w, r, id, event.StatusApproved, "")
	case "reject":
		a.transitionEvent(w, r, id, event.StatusDraft, strings.TrimSpace(req.Feedback))
	default:
		writeErrorFields(w, r, http.StatusBadRequest, codeValidation, "validation failed", map[string]string{
			"action": "must be approve or reject",
		})
	}
}

func (a *API) transitionEvent(w http.ResponseWriter, r *http.Request, id string, to event.Status, reason string) {
	e, err := a.events.Transition(r.Context(), currentUser(r), id, to, reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "event.status_changed",
		slog.String("event_id", e.ID),
		slog.String("to", string(to)),
	)
	writeData(w, r, http.StatusOK, "event status updated", e)
}

// viewEvent loads id for the caller. Events the caller may not read are
// reported as missing.
func (a *API) viewEvent(r *http.Request, id string) (event.Event, error) {
	e, err := a.events.Get(r.Context(), id)
	if err != nil {
		return event.Event{}, err
	}
	if !event.CanView(currentUser(r), e) {
		return event.Event{}, event.ErrNotFound
	}
	return e, nil
}

func (a *API) eventHistory(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := a.viewEvent(r, id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	hist, err := a.events.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "event history", nonNil(hist))
}
