package httpapi

import (
	"net/http"
	"strconv"

	"leadtrack-engine/internal/workspace"
)

type DashboardHandler struct {
	WS *workspace.Workspace
}

func (h DashboardHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.WS.Analytics())
}

// Agenda takes days (default 7) for the upcoming window.
func (h DashboardHandler) Agenda(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 365 {
			WriteError(w, r, http.StatusBadRequest, "invalid_value", "days must be 0..365")
			return
		}
		days = n
	}
	WriteJSON(w, http.StatusOK, h.WS.Agenda(days))
}

func (h DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.WS.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

func (h DashboardHandler) Save(w http.ResponseWriter, r *http.Request) {
	saved, err := h.WS.Save(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

func (h DashboardHandler) Backup(w http.ResponseWriter, r *http.Request) {
	res, err := h.WS.Backup(r.Context())
	if err != nil && res.Path == "" {
		writeDomainError(w, r, err)
		return
	}
	out := map[string]any{"backup": res}
	if err != nil {
		out["warning"] = err.Error()
	}
	WriteJSON(w, http.StatusOK, out)
}
