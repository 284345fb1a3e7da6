package httpapi

import (
	"encoding/json"
	"net/http"
)

// StreamProperties pushes the property collection as Server-Sent Events,
// starting with the current snapshot.
func (a *API) StreamProperties(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if _, err := a.Properties.Properties(r.Context()); err != nil {
		handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := a.Properties.Watch(r.Context())

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for props := range ch {
		payload, err := json.Marshal(map[string]any{"properties": props})
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: properties\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
