package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recover(log))
	r.Use(AccessLog(log))
	r.Use(cors.Handler(cors.Options{
		// Dashboard builds run from a dev server or a desktop shell.
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*", "tauri://localhost"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", TokenHeader, "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	}))
	if d.RatePerSecond > 0 {
		burst := int(d.RatePerSecond * 2)
		if burst < 1 {
			burst = 1
		}
		r.Use(NewClientLimiter(d.RatePerSecond, burst).Middleware)
	}

	hh := HealthHandler{WS: d.WS}
	lh := LeadsHandler{WS: d.WS}
	dh := DashboardHandler{WS: d.WS}
	ih := ImportHandler{WS: d.WS}
	ch := ConfigHandler{CfgVal: d.CfgVal, UserCfgPath: d.UserCfgPath, LoadCfg: d.LoadCfg}
	eh := EventsHandler{Hub: d.Hub, WS: d.WS}

	r.Get("/health", hh.Health)
	r.Get("/leads", lh.List)
	r.Get("/leads/{id}", lh.Get)
	r.Get("/leads/{id}/history", lh.History)
	r.Get("/analytics", dh.Analytics)
	r.Get("/agenda", dh.Agenda)
	r.Get("/stats", dh.Stats)
	r.Get("/events", eh.ServeSSE)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if d.CfgVal != nil {
		r.Get("/config", ch.Get)
		r.Get("/config/path", ch.Path)
		r.Get("/config/validate", ch.Validate)
	}

	// Mutating routes
	r.Group(func(r chi.Router) {
		r.Use(RequireToken(d.Token))
		r.Post("/leads", lh.Create)
		r.Patch("/leads/{id}", lh.Update)
		r.Delete("/leads/{id}", lh.Archive)
		r.Post("/leads/{id}/notes", lh.AddNote)
		r.Post("/leads/{id}/follow-up", lh.ScheduleFollowUp)
		r.Delete("/leads/{id}/follow-up", lh.CompleteFollowUp)
		r.Post("/import", ih.Import)
		r.Post("/save", dh.Save)
		r.Post("/backup", dh.Backup)
		if d.CfgVal != nil {
			r.Put("/config", ch.Put)
		}
	})

	return r
}
