package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"canvaschat/interfaces/http/rest/handlers"
	"canvaschat/interfaces/http/rest/middleware"
	pkgerrors "canvaschat/pkg/errors"
	"canvaschat/pkg/observability"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// RouterOptions configure the HTTP surface.
type RouterOptions struct {
	AllowedOrigins []string
	CORSMaxAge     int
	MaxBodyBytes   int64
	Debug          bool
	ServiceName    string
	Tracing        bool
	// Metrics is optional; without it /metrics is not mounted.
	Metrics *observability.Collector
	Ready   map[string]ReadinessCheck
}

// Router creates and configures the HTTP router
type Router struct {
	sessions handlers.Sessions
	bus      handlers.Subscriber
	opts     RouterOptions
	logger   *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(sessions handlers.Sessions, bus handlers.Subscriber, opts RouterOptions, logger *zap.Logger) *Router {
	return &Router{
		sessions: sessions,
		bus:      bus,
		opts:     opts,
		logger:   logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()
	errs := pkgerrors.NewErrorHandler(rt.logger, rt.opts.Debug)

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(errs.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.opts.Metrics != nil {
		router.Use(observability.MetricsMiddleware(rt.opts.Metrics))
	}
	if rt.opts.Tracing {
		router.Use(observability.TracingMiddleware(rt.opts.ServiceName))
	}

	origins := rt.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", "Last-Event-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Trace-ID"},
		MaxAge:         rt.opts.CORSMaxAge,
	}))

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.opts.Metrics.Handler())
	}

	sessionHandler := handlers.NewSessionHandler(rt.sessions, errs, rt.logger, rt.opts.MaxBodyBytes)
	nodeHandler := handlers.NewNodeHandler(rt.sessions, errs, rt.logger, rt.opts.MaxBodyBytes)
	canvasHandler := handlers.NewCanvasHandler(rt.sessions, errs, rt.logger, rt.opts.MaxBodyBytes)
	matrixHandler := handlers.NewMatrixHandler(rt.sessions, errs, rt.logger, rt.opts.MaxBodyBytes)
	eventHandler := handlers.NewEventHandler(rt.sessions, rt.bus, errs, rt.logger)

	router.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", sessionHandler.CreateSession)
		r.Get("/", sessionHandler.ListSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", sessionHandler.GetSession)
			r.Delete("/", sessionHandler.DeleteSession)
			r.Put("/save", sessionHandler.SaveSession)
			r.Post("/load", sessionHandler.LoadSession)
			r.Get("/graph", sessionHandler.GetGraph)
			r.Get("/events", eventHandler.Stream)
			r.Get("/current", nodeHandler.CurrentNode)
			r.Post("/messages", nodeHandler.SendMessage)

			r.Route("/nodes", func(r chi.Router) {
				r.Post("/", nodeHandler.CreateNode)
				r.Get("/{nodeID}", nodeHandler.GetNode)
				r.Patch("/{nodeID}", nodeHandler.UpdateNode)
				r.Delete("/{nodeID}", nodeHandler.DeleteNode)
				r.Post("/{nodeID}/dismiss-error", nodeHandler.DismissError)
				r.Post("/{nodeID}/auto-position", nodeHandler.AutoPosition)
			})

			r.Route("/edges", func(r chi.Router) {
				r.Post("/", nodeHandler.CreateEdge)
				r.Delete("/{edgeID}", nodeHandler.DeleteEdge)
			})

			r.Post("/context", canvasHandler.ResolveContext)
			r.Post("/context/tokens", canvasHandler.EstimateTokens)
			r.Post("/layout", canvasHandler.Layout)
			r.Post("/replies", canvasHandler.GenerateReply)

			r.Route("/matrices", func(r chi.Router) {
				r.Post("/", matrixHandler.CreateMatrix)
				r.Route("/{nodeID}", func(r chi.Router) {
					r.Post("/fill-all", matrixHandler.FillAll)
					r.Post("/cells/{row}/{col}/fill", matrixHandler.FillCell)
					r.Post("/cells/{row}/{col}/dismiss-error", matrixHandler.DismissCellError)
					r.Post("/cells/{row}/{col}/extract", matrixHandler.ExtractCell)
					r.Post("/rows", matrixHandler.AddRow)
					r.Delete("/rows/{row}", matrixHandler.RemoveRow)
					r.Post("/rows/{row}/extract", matrixHandler.ExtractRow)
					r.Post("/columns", matrixHandler.AddColumn)
					r.Delete("/columns/{col}", matrixHandler.RemoveColumn)
					r.Post("/columns/{col}/extract", matrixHandler.ExtractColumn)
				})
			})

			r.Route("/operations", func(r chi.Router) {
				r.Get("/", canvasHandler.ListOperations)
				r.Post("/{entityID}/stop", canvasHandler.Stop)
				r.Post("/{entityID}/stop-all", canvasHandler.StopAll)
			})

			r.Route("/history", func(r chi.Router) {
				r.Get("/", canvasHandler.History)
				r.Post("/undo", canvasHandler.Undo)
				r.Post("/redo", canvasHandler.Redo)
			})
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck runs every registered check with a short deadline.
func (rt *Router) readinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(rt.opts.Ready))
	status := http.StatusOK
	for name, check := range rt.opts.Ready {
		if err := check(ctx); err != nil {
			rt.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	body := map[string]interface{}{"status": "ready", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "not_ready"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		rt.logger.Error("Failed to encode response", zap.Error(err))
	}
}
