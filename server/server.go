// Package server assembles the public HTTP surface: one router per
// deployment, each with its own type validator, behind the shared
// middleware chain.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	polyguard "github.com/ai8future/polyguard"
	"github.com/ai8future/polyguard/audit"
	"github.com/ai8future/polyguard/deploy"
	"github.com/ai8future/polyguard/flagz"
	"github.com/ai8future/polyguard/guard"
	"github.com/ai8future/polyguard/health"
	"github.com/ai8future/polyguard/httpkit"
	"github.com/ai8future/polyguard/metrics"
	"github.com/ai8future/polyguard/polytype"
	"github.com/ai8future/polyguard/resource"
	"github.com/ai8future/polyguard/secval"
	"github.com/ai8future/polyguard/vehicles"
	"github.com/ai8future/polyguard/vehicles/catalog"
)

// Config is the service configuration, read from the environment.
type Config struct {
	HTTPPort        int           `env:"HTTP_PORT" default:"8080"`
	AdminPort       int           `env:"ADMIN_PORT" default:"9090"`
	GRPCPort        int           `env:"GRPC_PORT" default:"9091"`
	LogLevel        string        `env:"LOG_LEVEL" default:"info"`
	DeploymentsFile string        `env:"DEPLOYMENTS_FILE" required:"false"`
	FlagsFile       string        `env:"FLAGS_FILE" required:"false"`
	SQLiteDSN       string        `env:"SQLITE_DSN" default:":memory:"`
	KafkaBrokers    []string      `env:"KAFKA_BROKERS" required:"false"`
	AuditTopic      string        `env:"AUDIT_TOPIC" default:"polyguard.audit"`
	OTelEndpoint    string        `env:"OTEL_ENDPOINT" required:"false"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" default:"1048576"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" default:"10s"`
}

// Options carries the dependencies shared by every deployment. Store is
// required.
type Options struct {
	Store          resource.Store
	Audit          audit.Sink
	Metrics        *metrics.Recorder
	Logger         *slog.Logger
	Checks         map[string]health.Check
	Flags          *flagz.Flags
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// Server is the routed HTTP handler plus what it was built from.
type Server struct {
	handler     http.Handler
	deployments map[string]*polytype.WhiteList
}

// New builds the router for desc. Each deployment's validator is read from
// its params and the process environment now, so environment overrides
// must be in place before New is called.
func New(desc *deploy.Descriptor, opts Options) (*Server, error) {
	polyguard.AssertVersionChecked()
	if err := deploy.Validate(desc); err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("server: a store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	registry := catalog.NewRegistry()
	vehicleBase := reflect.TypeFor[vehicles.Vehicle]()
	scanner := secval.NewScanner()

	r := chi.NewRouter()
	r.NotFound(httpkit.NotFound)
	r.MethodNotAllowed(httpkit.MethodNotAllowed)
	r.Method(http.MethodGet, "/healthz", health.Handler(opts.Checks))

	s := &Server{deployments: make(map[string]*polytype.WhiteList, len(desc.Deployments))}
	for _, d := range desc.Deployments {
		wl, err := d.Validator()
		if err != nil {
			return nil, fmt.Errorf("server: deployment %s: %w", d.Name, err)
		}
		s.deployments[d.Name] = wl
		opts.Logger.Info("deployment configured",
			"deployment", d.Name,
			"rules", wl.Rules(),
			"admits", registry.Admitted(vehicleBase, wl),
		)

		h := resource.New(resource.Config{
			Deployment: d.Name,
			Codec:      polytype.NewCodec(registry, wl),
			Store:      opts.Store,
			Scanner:    scanner,
			Audit:      opts.Audit,
			Metrics:    opts.Metrics,
			Logger:     opts.Logger.With("deployment", d.Name),
			Flags:      opts.Flags,
		})

		sub := chi.NewRouter()
		sub.Use(
			httpkit.Deployment(d.Name),
			recordRequests(opts.Metrics, d.Name),
			guard.MaxBody(opts.MaxBodyBytes),
			guard.JSONContentType,
		)
		sub.Mount("/", h.Routes())
		r.Mount("/"+d.Name, sub)
	}

	// Recovery -> Tracing -> RequestID -> Timeout -> Logging -> router
	s.handler = httpkit.Recovery(opts.Logger)(
		httpkit.Tracing()(
			httpkit.RequestID(
				guard.Timeout(opts.RequestTimeout)(
					httpkit.Logging(opts.Logger)(r),
				),
			),
		),
	)
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Deployments returns the configured deployment names, sorted.
func (s *Server) Deployments() []string {
	names := make([]string, 0, len(s.deployments))
	for name := range s.deployments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validator returns the validator of the named deployment.
func (s *Server) Validator(name string) (*polytype.WhiteList, bool) {
	wl, ok := s.deployments[name]
	return wl, ok
}

// recordRequests feeds the per-deployment request metrics.
func recordRequests(rec *metrics.Recorder, deployment string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rec == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			rec.RecordRequest(context.WithoutCancel(r.Context()), deployment, r.Method, status,
				time.Since(start).Seconds(), r.ContentLength)
		})
	}
}
