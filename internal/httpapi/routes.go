package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/combat-tracker/internal/hub"
	"github.com/DoyleJ11/combat-tracker/internal/identity"
	"github.com/DoyleJ11/combat-tracker/internal/syncer"
	"github.com/DoyleJ11/combat-tracker/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Deps struct {
	Hub      *hub.Hub
	Records  *syncer.Records
	Identity identity.Provider
	Logger   *zap.Logger
	WS       ws.Options
}

func SetupRoutes(d Deps) http.Handler {
	if d.Identity == nil {
		d.Identity = identity.AnonymousProvider{}
	}
	api := NewAPI(d.Hub, d.Records, d.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Logger.Named("http")))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Hub, d.Logger, d.WS))

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", api.CreateSession)
		r.Get("/{id}", api.GetSession)
		r.Post("/{id}/commands", api.PostCommand)
		r.Get("/{id}/export", api.ExportSession)
		r.Post("/{id}/import", api.ImportSession)
	})

	// Saved combats follow the caller's identity.
	r.Route("/combats", func(r chi.Router) {
		r.Use(identity.Middleware(d.Identity, d.Logger.Named("identity")))
		r.Get("/", api.ListCombats)
		r.Post("/", api.SaveCombat)
		r.Get("/migration", api.MigrationStatus)
		r.With(identity.RequireAuth).Post("/migration", api.Migrate)
		r.Put("/{id}", api.UpdateCombat)
		r.Delete("/{id}", api.DeleteCombat)
		r.Post("/{id}/load", api.LoadCombat)
	})
	return r
}
