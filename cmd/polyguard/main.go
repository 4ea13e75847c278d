// Command polyguard serves the vehicle deserialization endpoints, one per
// deployment, plus an admin HTTP server and a gRPC health service.
//
// Run:
//
//	POLYGUARD_WHITELIST_ALLOW_IF_BASE_TYPE_PREFIX=github.com/ai8future/polyguard/vehicles/sea \
//	POLYGUARD_WHITELIST_ALLOW_IF_SUB_TYPE_PREFIX=github.com/ai8future/polyguard/vehicles/sea \
//	go run ./cmd/polyguard
//
// Try:
//
//	go run ./cmd/polyctl scenarios
//	curl http://localhost:9090/healthz
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"google.golang.org/grpc"

	polyguard "github.com/ai8future/polyguard"
	"github.com/ai8future/polyguard/audit"
	"github.com/ai8future/polyguard/config"
	"github.com/ai8future/polyguard/deploy"
	"github.com/ai8future/polyguard/flagz"
	"github.com/ai8future/polyguard/grpckit"
	"github.com/ai8future/polyguard/health"
	"github.com/ai8future/polyguard/lifecycle"
	"github.com/ai8future/polyguard/logz"
	"github.com/ai8future/polyguard/metrics"
	otelinit "github.com/ai8future/polyguard/otel"
	"github.com/ai8future/polyguard/server"
	"github.com/ai8future/polyguard/store"
)

func main() {
	polyguard.RequireMajor(1)

	cfg := config.MustLoad[server.Config]()
	logger := logz.New(cfg.LogLevel)
	logger.Info("starting polyguard", "version", polyguard.Version)

	if err := run(cfg, logger); err != nil {
		logger.Error("polyguard exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg server.Config, logger *slog.Logger) error {
	ctx := context.Background()

	if cfg.OTelEndpoint != "" {
		shutdown := otelinit.Init(otelinit.Config{
			ServiceName:    "polyguard",
			ServiceVersion: polyguard.Version,
			Endpoint:       cfg.OTelEndpoint,
		})
		defer shutdown(context.Background())
	}

	desc := deploy.Default()
	if cfg.DeploymentsFile != "" {
		var err error
		if desc, err = deploy.Load(cfg.DeploymentsFile); err != nil {
			return err
		}
	}

	flagSrc := flagz.FromEnv("POLYGUARD_FLAG")
	if cfg.FlagsFile != "" {
		fileSrc, err := flagz.FromYAML(cfg.FlagsFile)
		if err != nil {
			return err
		}
		flagSrc = flagz.Multi(fileSrc, flagSrc)
	}
	flags := flagz.New(flagSrc)
	logger.Info("flags loaded", flagz.AuditAccepted, flags.Percent(flagz.AuditAccepted))

	db, err := store.Open(ctx, cfg.SQLiteDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	checks := map[string]health.Check{"sqlite": db.Ping}

	var sink audit.Sink = audit.LogSink{Logger: logger}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		sink = audit.Multi{sink, kafka}
		checks["kafka"] = kafka.Ping
	}

	srv, err := server.New(desc, server.Options{
		Store:          db,
		Audit:          sink,
		Metrics:        metrics.New("polyguard", logger),
		Logger:         logger,
		Checks:         checks,
		Flags:          flags,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return err
	}

	lns, err := listenAll(
		fmt.Sprintf(":%d", cfg.HTTPPort),
		fmt.Sprintf(":%d", cfg.AdminPort),
		fmt.Sprintf(":%d", cfg.GRPCPort),
	)
	if err != nil {
		return err
	}
	publicLn, adminLn, grpcLn := lns[0], lns[1], lns[2]

	adminMux := http.NewServeMux()
	adminMux.Handle("GET /healthz", health.Handler(checks))

	grpcSrv := grpc.NewServer(grpckit.ServerOptions(logger)...)
	grpckit.RegisterHealth(grpcSrv, logger, checks)

	return lifecycle.Run(ctx,
		lifecycle.HTTPServer(logger, "public", &http.Server{Handler: srv.Handler()}, publicLn),
		lifecycle.HTTPServer(logger, "admin", &http.Server{Handler: adminMux}, adminLn),
		lifecycle.GRPCServer(logger, "admin-grpc", grpcSrv, grpcLn),
	)
}

// listenAll opens a TCP listener per address. On failure it closes the
// listeners already opened.
func listenAll(addrs ...string) ([]net.Listener, error) {
	lns := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, open := range lns {
				_ = open.Close()
			}
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		lns = append(lns, ln)
	}
	return lns, nil
}
