package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"leadtrack-engine/internal/events"
	"leadtrack-engine/internal/workspace"
)

type EventsHandler struct {
	Hub *events.Hub
	WS  *workspace.Workspace
}

// resumeSeq reads the replay point from ?since= or the Last-Event-ID header.
// ok is false when neither is set.
func resumeSeq(r *http.Request) (seq int64, ok bool, err error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		v = r.Header.Get("Last-Event-ID")
	}
	if v == "" {
		return 0, false, nil
	}
	seq, err = strconv.ParseInt(v, 10, 64)
	if err != nil || seq < 0 {
		return 0, false, fmt.Errorf("invalid event id %q", v)
	}
	return seq, true, nil
}

// ServeSSE streams dashboard events. A client resuming with ?since=N or
// Last-Event-ID first receives every tracked change after N, each tagged
// with its seq as the SSE id, then the live stream.
func (h EventsHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	seq, resume, err := resumeSeq(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_since", err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, http.StatusInternalServerError, "stream_unsupported", "Streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before replaying so nothing published in between is lost.
	ch := h.Hub.Subscribe()
	defer h.Hub.Unsubscribe(ch)

	reqID := RequestIDFrom(r.Context())
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", events.MakeEvent(reqID, "ping", nil))
	if resume && h.WS != nil {
		for _, ev := range h.WS.Since(seq) {
			fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", ev.Seq, events.MakeEvent(reqID, events.LeadChange, ev))
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
