package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"leadtrack-engine/internal/domain"
	"leadtrack-engine/internal/leads"
	"leadtrack-engine/internal/workspace"
)

type LeadsHandler struct {
	WS *workspace.Workspace
}

// List supports status, priority (comma separated), q, archived,
// follow_up_from, follow_up_to, created_from and created_to.
func (h LeadsHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := h.WS.Query(f)
	if out == nil {
		out = []domain.Lead{}
	}
	WriteJSON(w, http.StatusOK, out)
}

func parseFilter(r *http.Request) (leads.Filter, error) {
	q := r.URL.Query()
	f := leads.Filter{
		Search:          q.Get("q"),
		IncludeArchived: q.Get("archived") == "true" || q.Get("archived") == "1",
	}
	for _, s := range splitList(q.Get("status")) {
		st, ok := domain.ParseStatus(s)
		if !ok {
			return f, &domain.ValidationError{Field: domain.FieldStatus, Value: s, Reason: "unknown status"}
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, s := range splitList(q.Get("priority")) {
		p, ok := domain.ParsePriority(s)
		if !ok {
			return f, &domain.ValidationError{Field: domain.FieldPriority, Value: s, Reason: "unknown priority"}
		}
		f.Priorities = append(f.Priorities, p)
	}
	for _, tp := range []struct {
		key   string
		field domain.Field
		dst   *time.Time
	}{
		{"follow_up_from", domain.FieldFollowUpAt, &f.FollowUpFrom},
		{"follow_up_to", domain.FieldFollowUpAt, &f.FollowUpTo},
		{"created_from", "created_at", &f.CreatedFrom},
		{"created_to", "created_at", &f.CreatedTo},
	} {
		v := q.Get(tp.key)
		if v == "" {
			continue
		}
		t, err := domain.ParseTime(v)
		if err != nil {
			return f, &domain.ValidationError{Field: tp.field, Value: v, Reason: "not a recognised date/time"}
		}
		*tp.dst = t
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type createLeadReq struct {
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	Company    string   `json:"company"`
	Phone      string   `json:"phone"`
	Products   []string `json:"products"`
	Status     string   `json:"status"`
	Priority   string   `json:"priority"`
	FollowUpAt string   `json:"follow_up_at"`
	Note       string   `json:"note"`
}

func (req createLeadReq) lead(now time.Time) (domain.Lead, error) {
	l := domain.Lead{
		Email:   strings.ToLower(domain.CleanText(req.Email)),
		Name:    domain.CleanText(req.Name),
		Company: domain.CleanText(req.Company),
		Phone:   domain.CleanText(req.Phone),
	}
	for _, p := range req.Products {
		l.Products = domain.UnionStrings(l.Products, domain.SplitMulti(p))
	}
	if req.Status != "" {
		if err := domain.SetField(&l, domain.FieldStatus, req.Status); err != nil {
			return l, err
		}
	}
	if req.Priority != "" {
		if err := domain.SetField(&l, domain.FieldPriority, req.Priority); err != nil {
			return l, err
		}
	}
	if req.FollowUpAt != "" {
		if err := domain.SetField(&l, domain.FieldFollowUpAt, req.FollowUpAt); err != nil {
			return l, err
		}
	}
	if n := strings.TrimSpace(req.Note); n != "" {
		l.Notes = []domain.Note{{At: domain.Timestamp(now), Text: n}}
	}
	if !l.HasIdentity() {
		return l, &domain.ValidationError{Field: domain.FieldEmail, Reason: "a lead needs an email, name, company or phone"}
	}
	return l, nil
}

func (h LeadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLeadReq
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.lead(time.Now())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	l, err := h.WS.Create(r.Context(), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, l)
}

func (h LeadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	l, err := h.WS.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, l)
}

type updateFieldReq struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (h LeadsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateFieldReq
	if !decodeJSON(w, r, &req) {
		return
	}
	f, ok := domain.ParseField(req.Field)
	if !ok {
		writeDomainError(w, r, &domain.ValidationError{Field: domain.Field(req.Field), Value: req.Value, Reason: "unknown field"})
		return
	}
	l, err := h.WS.UpdateField(r.Context(), chi.URLParam(r, "id"), f, req.Value)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, l)
}

func (h LeadsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	l, err := h.WS.Archive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, l)
}

type addNoteReq struct {
	Text string `json:"text"`
	At   string `json:"at"`
}

func (h LeadsHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req addNoteReq
	if !decodeJSON(w, r, &req) {
		return
	}
	var at time.Time
	if req.At != "" {
		t, err := domain.ParseTime(req.At)
		if err != nil {
			writeDomainError(w, r, &domain.ValidationError{Field: domain.FieldNotes, Value: req.At, Reason: "not a recognised date/time"})
			return
		}
		at = t
	}
	l, err := h.WS.AddNote(r.Context(), chi.URLParam(r, "id"), req.Text, at)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, l)
}

type followUpReq struct {
	At string `json:"at"`
}

func (h LeadsHandler) ScheduleFollowUp(w http.ResponseWriter, r *http.Request) {
	var req followUpReq
	if !decodeJSON(w, r, &req) {
		return
	}
	at, err := domain.ParseTime(req.At)
	if err != nil {
		writeDomainError(w, r, &domain.ValidationError{Field: domain.FieldFollowUpAt, Value: req.At, Reason: "not a recognised date/time"})
		return
	}
	l, err := h.WS.ScheduleFollowUp(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, l)
}

func (h LeadsHandler) CompleteFollowUp(w http.ResponseWriter, r *http.Request) {
	l, err := h.WS.CompleteFollowUp(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, l)
}

func (h LeadsHandler) History(w http.ResponseWriter, r *http.Request) {
	evs, err := h.WS.History(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, evs)
}
