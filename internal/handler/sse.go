package handler

import (
	"fmt"
	"net/http"

	"github.com/flipshare/flipshare/internal/auth"
	"github.com/flipshare/flipshare/internal/sse"
)

func sseEvent(eventType, data string) sse.Event {
	return sse.Event{Type: eventType, Data: data}
}

// EventsSSE streams live view, contact, and download notifications for the
// authenticated owner's documents.
func (h *Handler) EventsSSE(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsub := h.SSE.Subscribe("account:" + accountID)
	defer unsub()

	// Send initial keepalive
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}
