package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucasnoah/qafactory/internal/db"
	"github.com/lucasnoah/qafactory/internal/orchestrator"
	"github.com/lucasnoah/qafactory/internal/pipeline"
)

//go:embed templates
var templateFS embed.FS

var funcMap = template.FuncMap{
	"badgeClass": func(status string) string {
		return "badge badge-" + strings.ReplaceAll(status, "_", "-")
	},
	"passClass": func(passed bool) string {
		if passed {
			return "result-pass"
		}
		return "result-fail"
	},
	"relTime": relTime,
}

// Runner answers questions. *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, question string, opts orchestrator.RunOptions) (*orchestrator.Result, error)
}

// Options configures a Server. Every field except Addr is optional; the
// endpoints backed by a missing dependency answer 503.
type Options struct {
	Addr              string
	Runner            Runner
	Store             *pipeline.Store
	DB                *db.DB
	Gatherer          prometheus.Gatherer
	Logger            *slog.Logger
	MaxConcurrentRuns int // 0 = unlimited
}

// Server serves the ask API, run history, analytics and a small dashboard.
type Server struct {
	addr     string
	runner   Runner
	store    *pipeline.Store
	db       *db.DB
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	slots    chan struct{}

	dashboardTmpl *template.Template
	runTmpl       *template.Template
}

// NewServer creates a Server with parsed templates.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:          opts.Addr,
		runner:        opts.Runner,
		store:         opts.Store,
		db:            opts.DB,
		gatherer:      opts.Gatherer,
		logger:        logger,
		dashboardTmpl: mustParseTmpl("base.html", "dashboard.html"),
		runTmpl:       mustParseTmpl("base.html", "run.html"),
	}
	if opts.MaxConcurrentRuns > 0 {
		s.slots = make(chan struct{}, opts.MaxConcurrentRuns)
	}
	return s
}

func mustParseTmpl(names ...string) *template.Template {
	patterns := make([]string, len(names))
	for i, n := range names {
		patterns[i] = "templates/" + n
	}
	return template.Must(template.New("").Funcs(funcMap).ParseFS(templateFS, patterns...))
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /runs/{id}", s.handleRunPage)
	mux.HandleFunc("GET /runs/{id}/stream", s.handleRunStream)

	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("GET /api/analytics/stages", s.handleStageStats)
	mux.HandleFunc("GET /api/analytics/failures", s.handleFailureKinds)
	mux.HandleFunc("GET /api/analytics/loops", s.handleLoops)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return s.logRequests(mux)
}

// Start listens on the configured address until ctx is cancelled, then
// drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("qafactory server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.logger.Info("qafactory server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// acquire takes a run slot without blocking.
func (s *Server) acquire() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) release() {
	if s.slots != nil {
		<-s.slots
	}
}
