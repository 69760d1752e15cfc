package httpapi

import (
	"net/http"
	"time"

	"rusunawa.app/internal/audit"
)

// handleAuditStream relays audit entries to the client as Server-Sent Events
// until the client disconnects.
func (a *API) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// the server write timeout would otherwise end the stream
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := audit.Subscribe(r.Context())

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	for entry := range ch {
		_, _ = w.Write([]byte("event: audit\ndata: "))
		_, _ = w.Write(entry)
		_, _ = w.Write([]byte("\n\n"))
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
