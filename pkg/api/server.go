// Package api exposes StreamGuard over HTTP and WebSocket.
//
// Handlers are thin: they decode the request, call the runner, content
// store, host store or inventory, and encode the answer. Errors are mapped
// to status codes by their kind, so a bad distro is a 400 and a job that
// could not be created is a 500.
package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"

	"github.com/exploopio/streamguard/pkg/content"
	"github.com/exploopio/streamguard/pkg/events"
	"github.com/exploopio/streamguard/pkg/health"
	"github.com/exploopio/streamguard/pkg/inventory"
	"github.com/exploopio/streamguard/pkg/logger"
	"github.com/exploopio/streamguard/pkg/metrics"
	"github.com/exploopio/streamguard/pkg/runner"
	"github.com/exploopio/streamguard/pkg/store"
)

// Content is the content store as seen by the API.
type Content interface {
	Resolve(distro, profile string) (datastream, playbook string, err error)
	EnsureContent(ctx context.Context, distro string, offline *bool) (string, []content.Artifact, error)
	ListProfiles(ctx context.Context, distro string) ([]content.ProfileInfo, error)
	FetchRawProfile(ctx context.Context, product, profile string) (string, error)
	Status() content.CacheStatus
	Offline() bool
	SetOffline(offline bool) bool
}

// Jobs starts and runs audit and mitigation jobs.
type Jobs interface {
	RunAudit(ctx context.Context, req runner.AuditRequest) (*runner.AuditResult, error)
	StartAudit(ctx context.Context, req runner.AuditRequest) (*store.Job, error)
	RunMitigation(ctx context.Context, req runner.MitigationRequest) (*runner.MitigationResult, error)
	StartMitigation(ctx context.Context, req runner.MitigationRequest) (*store.Job, error)
}

// Store is the persistence the API reads and edits.
type Store interface {
	GetJob(ctx context.Context, id string) (*store.Job, error)
	ListJobs(ctx context.Context, f store.JobFilter) ([]*store.Job, error)
	JobResults(ctx context.Context, jobID string) ([]*store.ScanResult, error)

	CreateHost(ctx context.Context, h *store.Host) error
	GetHost(ctx context.Context, id string) (*store.Host, error)
	ListHosts(ctx context.Context) ([]*store.Host, error)
	UpdateHost(ctx context.Context, id string, patch store.HostPatch) (*store.Host, error)
	DeleteHost(ctx context.Context, id string) error
}

// Discoverer imports hosts from the SSH configuration.
type Discoverer interface {
	Discover(ctx context.Context) (*inventory.Report, error)
}

// ConnTester checks SSH reachability of a host.
type ConnTester interface {
	TestConnection(ctx context.Context, req inventory.ConnRequest) (*inventory.ConnResult, error)
}

// Config configures the HTTP server.
type Config struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// AllowedOrigins limits CORS and WebSocket origins. Empty allows all.
	AllowedOrigins []string
	// MetricsPath mounts the metrics handler when non-empty.
	MetricsPath string
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Listen:          ":8000",
		ReadTimeout:     30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MetricsPath:     "/metrics",
	}
}

// Deps are the collaborators of a Server. Discoverer, Tester, Health and
// Metrics are optional.
type Deps struct {
	Jobs       Jobs
	Content    Content
	Store      Store
	Bus        *events.Bus
	Discoverer Discoverer
	Tester     ConnTester
	Health     *health.Handler
	Metrics    metrics.Collector
	Logger     logger.Logger
}

// Server is the StreamGuard HTTP API.
type Server struct {
	cfg     Config
	deps    Deps
	log     logger.Logger
	ws      *events.WebSocketHandler
	router  *mux.Router
	httpSrv *http.Server
}

// NewServer creates the server and its routes.
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		log:    logger.OrNop(deps.Logger),
		router: mux.NewRouter(),
	}
	if deps.Bus != nil {
		s.ws = events.NewWebSocketHandler(deps.Bus, cfg.AllowedOrigins, s.log)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests, s.cors)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/audit", s.handleAudit).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/audit/history", s.handleHistory(store.KindAudit)).Methods(http.MethodGet)
	api.HandleFunc("/audit/results/{jobID}", s.handleAuditResults).Methods(http.MethodGet)
	api.HandleFunc("/audit/results/{jobID}/export/{format}", s.handleAuditExport).Methods(http.MethodGet)

	api.HandleFunc("/mitigate", s.handleMitigate).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/mitigate/history", s.handleHistory(store.KindMitigation)).Methods(http.MethodGet)

	api.HandleFunc("/jobs/{jobID}", s.handleGetJob).Methods(http.MethodGet)

	api.HandleFunc("/cac/fetch/{distro}", s.handleFetchContent).Methods(http.MethodGet)
	api.HandleFunc("/cac/status", s.handleContentStatus).Methods(http.MethodGet)
	api.HandleFunc("/cac/profiles/{distro}", s.handleListProfiles).Methods(http.MethodGet)
	api.HandleFunc("/cac/profiles/{product}/{profile}/raw", s.handleRawProfile).Methods(http.MethodGet)
	api.HandleFunc("/cac/offline-mode", s.handleGetOfflineMode).Methods(http.MethodGet)
	api.HandleFunc("/cac/offline-mode", s.handleSetOfflineMode).Methods(http.MethodPost, http.MethodOptions)

	api.HandleFunc("/hosts", s.handleListHosts).Methods(http.MethodGet)
	api.HandleFunc("/hosts", s.handleCreateHost).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/hosts/test-connection", s.handleTestConnection).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/hosts/discover", s.handleDiscover).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/hosts/{hostID}", s.handleGetHost).Methods(http.MethodGet)
	api.HandleFunc("/hosts/{hostID}", s.handleUpdateHost).Methods(http.MethodPut, http.MethodPatch, http.MethodOptions)
	api.HandleFunc("/hosts/{hostID}", s.handleDeleteHost).Methods(http.MethodDelete, http.MethodOptions)

	s.router.HandleFunc("/ws/{kind:audit|mitigate}/{jobID}", s.handleWebSocket)

	if s.deps.Health != nil {
		s.deps.Health.RegisterRoutes(s.router)
	} else {
		s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}).Methods(http.MethodGet)
	}
	if s.deps.Metrics != nil && s.cfg.MetricsPath != "" {
		s.router.Handle(s.cfg.MetricsPath, s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening on %s", s.cfg.Listen)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.log.Info("shutting down HTTP server")
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ws == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "live progress is not available")
		return
	}
	s.ws.ServeJob(w, r, mux.Vars(r)["jobID"])
}

// =============================================================================
// Middleware
// =============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the WebSocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(s.cfg.AllowedOrigins) == 0 || slices.Contains(s.cfg.AllowedOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
