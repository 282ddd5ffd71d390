package http

import (
	"net/http"

	"firewatch/internal/alert"
	"firewatch/internal/auth"
	"firewatch/internal/config"
	"firewatch/internal/email"
	"firewatch/internal/http/handler"
	mw "firewatch/internal/http/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Deps struct {
	DB       *gorm.DB
	JWT      *auth.JWT
	Sender   *alert.Sender
	Tracker  *alert.Tracker
	Prefs    *alert.PreferenceStore
	Provider email.Provider
	Renderer *email.Renderer
	Log      *zap.SugaredLogger
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ah := &handler.AuthHandler{DB: d.DB, JWT: d.JWT}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	me := &handler.MeHandler{DB: d.DB}
	r.With(auth.RequireAuth(d.JWT)).Get("/me", me.Me)

	prefH := &handler.PreferenceHandler{Prefs: d.Prefs}
	areaH := &handler.AreaHandler{DB: d.DB}
	histH := &handler.HistoryHandler{Tracker: d.Tracker}
	adminH := &handler.AdminHandler{Sender: d.Sender, Provider: d.Provider, Renderer: d.Renderer}
	hookH := &handler.WebhookHandler{Tracker: d.Tracker, Secret: cfg.ResendWebhookSecret, Log: d.Log}

	r.Route("/api", func(r chi.Router) {
		// Provider callbacks are authenticated by signature, not JWT.
		r.Post("/webhooks/email", hookH.Receive)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(d.JWT))

			r.Get("/alert-preferences", prefH.Get)
			r.Put("/alert-preferences", prefH.Update)
			r.Post("/alert-preferences/unsubscribe", prefH.Unsubscribe)

			r.Get("/monitored-areas", areaH.List)
			r.Post("/monitored-areas", areaH.Create)
			r.Delete("/monitored-areas/{id}", areaH.Delete)

			r.Get("/alert-history", histH.List)

			r.Post("/admin/alerts/send-test", adminH.SendTest)
			r.Post("/admin/alerts/trigger", adminH.Trigger)
			r.Post("/admin/alerts/digest", adminH.Digest)
		})
	})

	return r
}
