package api

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/mpataki/maestro/internal/batch"
	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/process"
	"github.com/mpataki/maestro/internal/settings"
	"github.com/mpataki/maestro/internal/storage"
)

// Deps are the services the API exposes. History and Settings may be nil.
type Deps struct {
	// Ctx outlives requests; batch runs and spawned processes are bound
	// to it rather than to the request that started them.
	Ctx context.Context

	Store        *docs.Store
	Controller   *batch.Controller
	Processes    *process.Manager
	History      *storage.Storage
	Settings     *settings.Settings
	PlaybookDirs []string
	Defaults     batch.Options
}

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(d Deps, logger *slog.Logger) *chi.Mux {
	if d.Ctx == nil {
		d.Ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	docH := NewDocumentHandler(d.Store)
	batchH := NewBatchHandler(d.Ctx, d.Store, d.Controller, d.PlaybookDirs, d.Defaults)
	procH := NewProcessHandler(d.Ctx, d.Processes)

	r.Get("/health", Health)

	r.Route("/documents", func(r chi.Router) {
		r.Get("/", docH.List)
		r.Get("/{name}", docH.Get)
		r.Put("/{name}", docH.Put)
		r.Post("/{name}/tasks/{index}/toggle", docH.Toggle)
		r.Post("/{name}/reset", docH.Reset)
	})

	r.Route("/batch", func(r chi.Router) {
		r.Get("/", batchH.State)
		r.Post("/start", batchH.Start)
		r.Post("/stop", batchH.Stop)
		r.Get("/events", batchH.Events)
	})

	if d.History != nil {
		runH := NewRunHandler(d.History)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runH.List)
			r.Get("/{id}", runH.Get)
		})
	}

	r.Route("/processes", func(r chi.Router) {
		r.Get("/", procH.List)
		r.Post("/", procH.Spawn)
		r.Post("/{id}/write", procH.Write)
		r.Delete("/{id}", procH.Kill)
	})

	if d.Settings != nil {
		setH := NewSettingsHandler(d.Settings)
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", setH.All)
			r.Get("/{key}", setH.Get)
			r.Put("/{key}", setH.Put)
		})
	}

	return r
}
