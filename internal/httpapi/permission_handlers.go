package httpapi

import (
	"log/slog"
	"net/http"
	"strings"

	"campushub.org/internal/audit"
	"campushub.org/internal/permission"
)

const groupAdminsPrefix = "/v1/group-admins/"

type grantRequest struct {
	Permission string `json:"permission"`
	Granted    *bool  `json:"granted"`
}

type grantsResponse struct {
	UserID string             `json:"user_id"`
	Grants []permission.Grant `json:"grants"`
}

// handleGroupAdminPermissions serves /v1/group-admins/{id}/permissions.
func (a *API) handleGroupAdminPermissions(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitResource(r.URL.Path, groupAdminsPrefix)
	if !ok || action != "permissions" {
		writeError(w, r, http.StatusNotFound, codeNotFound, "route not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		grants, err := a.perms.Grants(r.Context(), currentUser(r), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeData(w, r, http.StatusOK, "group admin permissions", grantsResponse{UserID: id, Grants: nonNil(grants)})
	case http.MethodPut:
		var req grantRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		key := permission.Key(strings.ToUpper(strings.TrimSpace(req.Permission)))
		if req.Granted == nil {
			writeErrorFields(w, r, http.StatusBadRequest, codeValidation, "validation failed", map[string]string{"granted": "is required"})
			return
		}
		g, err := a.perms.SetGrant(r.Context(), currentUser(r), id, key, *req.Granted)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		name := "permission.revoked"
		if g.IsGranted {
			name = "permission.granted"
		}
		_ = audit.LogEvent(r.Context(), name,
			slog.String("target_id", g.UserID),
			slog.String("permission", string(g.Key)),
		)
		writeData(w, r, http.StatusOK, "permission updated", g)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}
