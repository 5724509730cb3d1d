package httpapi

import (
	"net/http"
	"time"

	"leadtrack-engine/internal/workspace"
)

type HealthHandler struct {
	WS *workspace.Workspace
}

func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"time":    time.Now().Format(time.RFC3339),
		"dirty":   h.WS.Dirty(),
		"corrupt": len(h.WS.Corrupt()),
	})
}
