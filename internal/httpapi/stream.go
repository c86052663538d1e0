package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"campushub.org/internal/event"
	"campushub.org/internal/eventbus"
)

// Stream pushes event and seat notices as Server-Sent Events. Repeating
// ?event_id= narrows the feed to those events. Registrant ids are only sent
// to their owner and to callers allowed to list the event's registrations,
// and callers limited to public events never see other status changes.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, codeInternal, "streaming disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, codeInternal, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx, r.URL.Query()["event_id"]...)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	user := currentUser(r)
	publicOnly := event.VisibleStatuses(user) != nil
	for n := range ch {
		if n.Type == eventbus.TypeEventStatusChanged && publicOnly && !event.Status(n.To).Public() {
			continue
		}
		if n.UserID != "" && n.UserID != user.ID && (a.ledger == nil || !a.ledger.CanViewRegistrants(ctx, user, n.EventID)) {
			n.UserID = ""
		}
		payload, err := json.Marshal(n)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: " + n.Type + "\n"))
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
