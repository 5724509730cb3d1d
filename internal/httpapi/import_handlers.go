package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"leadtrack-engine/internal/domain"
	"leadtrack-engine/internal/ingest"
	"leadtrack-engine/internal/workspace"
)

// maxImportBytes caps an uploaded import file.
const maxImportBytes = 32 << 20

type ImportHandler struct {
	WS *workspace.Workspace
}

// Import reads the request body as a CSV, JSON or HTML table. The format
// comes from ?format= or the Content-Type. The mapping comes from ?mapping=
// (a JSON object), ?preset=, or is resolved from the columns. ?save_preset=
// stores the mapping used under that name.
func (h ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   ingest.Format
		err error
	)
	if v := q.Get("format"); v != "" {
		f, err = ingest.ParseFormat(v)
	} else {
		f, err = ingest.FormatFromContentType(r.Header.Get("Content-Type"))
	}
	if err != nil {
		WriteError(w, r, http.StatusUnsupportedMediaType, "unsupported_format", err.Error())
		return
	}

	var explicit map[string]string
	if v := q.Get("mapping"); v != "" {
		if err := json.Unmarshal([]byte(v), &explicit); err != nil {
			WriteError(w, r, http.StatusBadRequest, "invalid_mapping", "mapping must be a JSON object: "+err.Error())
			return
		}
	}

	tbl, err := ingest.Read(http.MaxBytesReader(w, r.Body, maxImportBytes), f)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "unreadable_file", err.Error())
		return
	}

	mapping, err := h.WS.ResolveMapping(q.Get("preset"), explicit, tbl.Columns)
	if errors.Is(err, domain.ErrNotFound) {
		writeDomainError(w, r, err)
		return
	}
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_mapping", err.Error())
		return
	}
	rep, err := h.WS.Import(r.Context(), tbl, mapping)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if name := q.Get("save_preset"); name != "" {
		if err := h.WS.SavePreset(r.Context(), name, mapping); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	WriteJSON(w, http.StatusOK, rep)
}
