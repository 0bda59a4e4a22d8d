// Package rest wires the HTTP surface: routing, middleware and handlers.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/application/services"
	"flowdeck-backend/interfaces/http/rest/handlers"
	"flowdeck-backend/interfaces/http/rest/middleware"
	"flowdeck-backend/interfaces/websocket"
	"flowdeck-backend/pkg/auth"
	"flowdeck-backend/pkg/observability"
)

// Router creates and configures the HTTP router
type Router struct {
	sessions  *services.SessionManager
	archive   ports.OperationArchive
	wsServer  *websocket.Server
	validator *auth.JWTValidator
	metrics   *observability.Collector
	logger    *zap.Logger

	enableCORS     bool
	allowedOrigins []string
}

// RouterOptions holds the router's configuration
type RouterOptions struct {
	Sessions       *services.SessionManager
	Archive        ports.OperationArchive // nil disables the audit endpoint
	WSServer       *websocket.Server
	Validator      *auth.JWTValidator
	Metrics        *observability.Collector
	Logger         *zap.Logger
	EnableCORS     bool
	AllowedOrigins []string
}

// NewRouter creates a new router instance
func NewRouter(opts RouterOptions) *Router {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return &Router{
		sessions:       opts.Sessions,
		archive:        opts.Archive,
		wsServer:       opts.WSServer,
		validator:      opts.Validator,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		enableCORS:     opts.EnableCORS,
		allowedOrigins: origins,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	if rt.metrics != nil {
		router.Use(middleware.Metrics(rt.metrics))
	}

	if rt.enableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	if rt.metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(rt.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	if rt.wsServer != nil {
		router.Get("/ws", rt.wsServer.HandleWebSocket)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.validator, rt.logger))

		r.Route("/workflows/{workflowID}", func(r chi.Router) {
			workflowHandler := handlers.NewWorkflowHandler(rt.sessions, rt.logger)
			r.Get("/", workflowHandler.GetWorkflow)
			r.Post("/open", workflowHandler.OpenWorkflow)
			r.Post("/close", workflowHandler.CloseWorkflow)

			r.Post("/nodes", workflowHandler.AddNode)
			r.Delete("/nodes/{nodeID}", workflowHandler.DeleteNode)
			r.Patch("/nodes/{nodeID}/position", workflowHandler.MoveNode)
			r.Put("/nodes/{nodeID}/config", workflowHandler.UpdateNodeConfig)

			r.Post("/edges", workflowHandler.AddEdge)
			r.Delete("/edges/{edgeID}", workflowHandler.DeleteEdge)

			r.Post("/bulk-delete", workflowHandler.BulkDelete)
			r.Post("/paste", workflowHandler.PasteNodes)
			r.Post("/duplicate", workflowHandler.DuplicateNodes)

			r.Post("/undo", workflowHandler.Undo)
			r.Post("/redo", workflowHandler.Redo)
			r.Get("/history", workflowHandler.History)

			if rt.archive != nil {
				operationHandler := handlers.NewOperationHandler(rt.archive, rt.logger)
				r.Get("/operations", operationHandler.RecentOperations)
			}
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
