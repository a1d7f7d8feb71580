package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/miladahmadkhan/promotion-panel/internal/authz"
	"github.com/miladahmadkhan/promotion-panel/internal/client"
	"github.com/miladahmadkhan/promotion-panel/internal/handler"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/config"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/database"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/logger"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/middleware"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/telemetry"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
	"github.com/miladahmadkhan/promotion-panel/internal/repository/sqlite"
	"github.com/miladahmadkhan/promotion-panel/internal/rules"
	"github.com/miladahmadkhan/promotion-panel/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Promotion Panel service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Service.Name, cfg.Service.Version, cfg.Telemetry.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}()

	// Rule table. A table that fails validation stops start-up.
	loader := rules.NewLoader(cfg.Rules.Path)
	table, err := loader.Table()
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Rules.Path).Msg("Failed to load rule table")
	}
	log.Info().
		Str("source", loader.Source()).
		Strs("level_paths", table.LevelPaths()).
		Msg("Rule table loaded")

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to open store")
	}
	defer closeStore()

	if err := service.EnsureBootstrapAccounts(ctx, store, log, bootstrapAccounts(cfg.Bootstrap)); err != nil {
		log.Fatal().Err(err).Msg("Failed to create bootstrap accounts")
	}

	// Notifications are optional
	var notifier service.Notifier
	if cfg.NATS.URL != "" {
		publisher, nc, err := client.Connect(ctx, cfg.NATS.URL, log.With("notifications"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		notifier = publisher
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS notifications enabled")
	}

	// Initialize services
	decisionService := service.NewDecisionService(store, loader, log)
	evaluationService := service.NewEvaluationService(store, loader, notifier, log)
	lifecycleService := service.NewLifecycleService(store, loader, decisionService, notifier, log)
	reportService := service.NewReportService(store, loader, decisionService, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(evaluationService, decisionService, lifecycleService, reportService, loader, log)
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	httpHandler.Register(mux)

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("PP_AUTH_JWT_SECRET is not set; every API request will be rejected")
	}
	validator := middleware.NewTokenValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// Apply middleware
	h := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Logger(&log.Logger),
		middleware.Recovery(&log.Logger),
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.Timeout(cfg.Server.RequestTimeout),
		middleware.Authenticate(validator),
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// gRPC server carries the health service
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Rule table and store are both ready at this point
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(cfg.Service.Name, healthpb.HealthCheckResponse_SERVING)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

// openStore opens the store selected by the database driver and applies
// its migrations.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (service.Store, func(), error) {
	if cfg.Database.Driver == "sqlite" {
		store, err := sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.Database.SQLitePath).Msg("SQLite store opened")
		return store, func() { _ = store.Close() }, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, nil, err
	}
	migrateCtx, done := context.WithTimeout(ctx, time.Minute)
	defer done()
	if err := repository.Migrate(migrateCtx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info().Msg("Database connection established")
	return repository.NewStore(db), db.Close, nil
}

func bootstrapAccounts(b config.BootstrapConfig) []service.Account {
	return []service.Account{
		{Username: b.AdminUser, FullName: b.AdminName, Email: b.AdminEmail, Role: authz.RoleAdmin},
		{Username: b.HRBPUser, FullName: b.HRBPName, Email: b.HRBPEmail, Role: authz.RoleHRBP},
		{Username: b.ApproverUser, FullName: b.ApproverName, Email: b.ApproverEmail, Role: authz.RoleApprover},
	}
}
