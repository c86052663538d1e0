package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"campushub.org/internal/audit"
	"campushub.org/internal/auth"
	"campushub.org/internal/event"
	"campushub.org/internal/obs"
	"campushub.org/internal/permission"
	"campushub.org/internal/registration"
	"campushub.org/internal/validate"
)

// Error codes carried in the envelope's error.code field.
const (
	codeValidation         = "VALIDATION_FAILED"
	codeBadRequest         = "BAD_REQUEST"
	codeUnauthenticated    = "UNAUTHENTICATED"
	codeForbidden          = "FORBIDDEN"
	codeNotFound           = "NOT_FOUND"
	codeConflict           = "CONFLICT"
	codeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	codeRateLimited        = "RATE_LIMITED"
	codeInternal           = "INTERNAL_ERROR"
	codeInvalidTransition  = "INVALID_TRANSITION"
	codeNotEditable        = "NOT_EDITABLE"
	codeEventFull          = "EVENT_FULL"
	codeDeadlinePassed     = "DEADLINE_PASSED"
	codeAlreadyRegistered  = "ALREADY_REGISTERED"
	codeNotRegistered      = "NOT_REGISTERED"
	codeRegistrationClosed = "REGISTRATION_CLOSED"
)

type domainError struct {
	target  error
	status  int
	code    string
	message string
}

var domainErrors = []domainError{
	{auth.ErrUnauthenticated, http.StatusUnauthorized, codeUnauthenticated, "authentication required"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, codeUnauthenticated, "invalid or expired token"},
	{permission.ErrForbidden, http.StatusForbidden, codeForbidden, "insufficient permissions"},
	{registration.ErrNotStudent, http.StatusForbidden, codeForbidden, "only students may register for events"},
	{event.ErrNotFound, http.StatusNotFound, codeNotFound, "event not found"},
	{auth.ErrNotFound, http.StatusNotFound, codeNotFound, "user not found"},
	{auth.ErrAlreadyExists, http.StatusConflict, codeConflict, "resource already exists"},
	{event.ErrInvalidTransition, http.StatusConflict, codeInvalidTransition, "status change not allowed"},
	{event.ErrNotEditable, http.StatusConflict, codeNotEditable, "event can only be changed while in draft"},
	{registration.ErrEventFull, http.StatusConflict, codeEventFull, "event is full"},
	{registration.ErrDeadlinePassed, http.StatusConflict, codeDeadlinePassed, "registration deadline has passed"},
	{registration.ErrAlreadyRegistered, http.StatusConflict, codeAlreadyRegistered, "already registered for this event"},
	{registration.ErrNotRegistered, http.StatusConflict, codeNotRegistered, "not registered for this event"},
	{registration.ErrRegistrationClosed, http.StatusConflict, codeRegistrationClosed, "event is not accepting registrations"},
}

// writeDomainError maps service errors onto the response envelope.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validate.Error
	if errors.As(err, &verr) {
		writeErrorFields(w, r, http.StatusBadRequest, codeValidation, "validation failed", verr.Fields)
		return
	}
	if errors.Is(err, auth.ErrInvalidInput) {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	for _, de := range domainErrors {
		if errors.Is(err, de.target) {
			writeError(w, r, de.status, de.code, de.message)
			return
		}
	}
	obs.Logger().Error("request failed",
		slog.String("event", "http.error"),
		slog.String("path", r.URL.Path),
		slog.String("request_id", audit.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
}
