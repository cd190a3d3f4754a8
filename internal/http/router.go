package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oneops/oneops/internal/domain"
	"github.com/oneops/oneops/internal/service/auth"
	"github.com/oneops/oneops/internal/service/cloud"
	"github.com/oneops/oneops/internal/service/deploy"
	"github.com/oneops/oneops/internal/ws"
)

// Authorizer validates bearer tokens.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (auth.Identity, error)
}

// Deployer runs the deployment pipeline.
type Deployer interface {
	Deploy(ctx context.Context, token string, req deploy.Request) (deploy.Response, error)
}

// ProjectLister reads project records.
type ProjectLister interface {
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
}

// EventReader lists stored events and exposes the live stream hub.
type EventReader interface {
	List(ctx context.Context, ownerID string, limit, offset int) ([]domain.DeploymentEvent, error)
	Hub() *ws.Hub
}

// CredentialVerifier checks cloud credentials.
type CredentialVerifier interface {
	Verify(ctx context.Context, req cloud.VerifyRequest) (cloud.VerifyResponse, error)
}

// WorkflowDispatcher triggers CI workflows on the source host.
type WorkflowDispatcher interface {
	Dispatch(ctx context.Context, repo, workflow string) error
}

// Options carries the router dependencies. Nil optional services disable
// their routes.
type Options struct {
	Logger          *slog.Logger
	Auth            Authorizer
	Deploy          Deployer
	Projects        ProjectLister
	Events          EventReader
	Cloud           CredentialVerifier
	Dispatcher      WorkflowDispatcher
	Limiter         RateLimiter
	DBHealth        func(context.Context) error
	DeployRateLimit int
	AllowedOrigin   string
	Registerer      prometheus.Registerer
	Gatherer        prometheus.Gatherer
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux        chi.Router
	logger     *slog.Logger
	auth       Authorizer
	deploy     Deployer
	projects   ProjectLister
	events     EventReader
	cloud      CredentialVerifier
	dispatcher WorkflowDispatcher
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	dbHealth   func(context.Context) error

	deployRateLimit int
	allowedOrigin   string
	heartbeat       time.Duration

	registerer         prometheus.Registerer
	gatherer           prometheus.Gatherer
	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 15 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(opts Options) *Router {
	r := &Router{
		mux:        chi.NewRouter(),
		logger:     opts.Logger,
		auth:       opts.Auth,
		deploy:     opts.Deploy,
		projects:   opts.Projects,
		events:     opts.Events,
		cloud:      opts.Cloud,
		dispatcher: opts.Dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:         opts.Limiter,
		dbHealth:        opts.DBHealth,
		deployRateLimit: opts.DeployRateLimit,
		allowedOrigin:   opts.AllowedOrigin,
		heartbeat:       sseHeartbeat,
		registerer:      opts.Registerer,
		gatherer:        opts.Gatherer,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.allowedOrigin == "" {
		r.allowedOrigin = "*"
	}
	if r.limiter == nil {
		r.limiter = NewLocalRateLimiter()
	}
	if r.registerer == nil {
		r.registerer = prometheus.DefaultRegisterer
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.Use(middleware.RequestID)
	r.mux.Use(middleware.Recoverer)
	r.mux.Use(r.audit)
	r.mux.Use(r.cors)
	r.mux.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.mux.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.mux.Get("/healthz", r.handleHealthz)
	r.mux.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))

	if r.deploy != nil {
		r.mux.Post("/deploy", r.withQuota(r.deployQuota(), r.deployer, r.handleDeploy))
	}
	if r.auth == nil {
		return
	}
	if r.projects != nil {
		r.mux.Get("/projects", r.authedQuota(quotaRead, r.handleProjects))
	}
	if r.events != nil {
		r.mux.Get("/events", r.authedQuota(quotaRead, r.handleEvents))
		r.mux.Get("/events/stream", r.requireStreamAuth(r.withQuota(quotaStream, authenticatedUser, r.handleEventStream)))
		r.mux.Get("/ws/events", r.requireStreamAuth(r.withQuota(quotaStream, authenticatedUser, r.handleEventsWS)))
	}
	if r.cloud != nil {
		r.mux.Post("/cloud/verify", r.authedQuota(quotaWrite, r.handleCloudVerify))
	}
	if r.dispatcher != nil {
		r.mux.Post("/github/dispatch", r.authedQuota(quotaWrite, r.handleDispatch))
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func routePattern(req *http.Request) string {
	if rctx := chi.RouteContext(req.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
