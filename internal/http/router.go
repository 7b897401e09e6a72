package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"chronicle/internal/auth"
	"chronicle/internal/config"
	"chronicle/internal/http/handler"
	mw "chronicle/internal/http/middleware"
	"chronicle/internal/ticket"
)

func NewRouter(cfg config.Config, db *gorm.DB, jwtSvc *auth.JWT, ticketSvc *ticket.Service) http.Handler {
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

	ah := &handler.AuthHandler{DB: db, JWT: jwtSvc}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	me := &handler.MeHandler{}
	r.With(auth.RequireAuth(jwtSvc)).Get("/me", me.Me)

	th := &handler.TicketHandler{Svc: ticketSvc}
	tr := &handler.TicketReadHandler{DB: db}
	jh := &handler.JournalHandler{DB: db}
	fh := &handler.CustomFieldHandler{DB: db}

	r.Route("/custom-fields", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Post("/", fh.Create)
		r.Get("/", fh.List)
	})

	r.Route("/tickets", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Post("/", th.Create)
		r.Get("/", tr.List)
		r.Get("/{id}", tr.Get)
		r.Patch("/{id}", th.Update)

		r.Post("/{id}/notes", th.AddNote)
		r.Get("/{id}/journals", jh.Timeline)

		r.Put("/{id}/custom-values/{fieldID}", th.SetCustomValue)

		r.Post("/{id}/attachments", th.Attach)
		r.Delete("/{id}/attachments/{attachmentID}", th.Detach)
	})

	return r
}
