package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"scrapbook/internal/auth"
	"scrapbook/internal/config"
	docsysRepo "scrapbook/internal/domain/repositories/docsystem"
	"scrapbook/internal/handler"
	"scrapbook/internal/middleware"
	"scrapbook/internal/render"
	"scrapbook/internal/repository/memory"
	"scrapbook/internal/repository/postgres"
	postgresDocsys "scrapbook/internal/repository/postgres/docsystem"
	"scrapbook/internal/repository/sqlite"
	serviceAuth "scrapbook/internal/service/auth"
	serviceDocsys "scrapbook/internal/service/docsystem"
	"scrapbook/internal/telemetry"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup structured logging, teed into a rotated log file when LOG_DIR is set
	var out io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer logFile.Close()
		out = io.MultiWriter(os.Stdout, logFile)
	}
	logger := config.NewLogger(out, cfg.Environment == "dev")
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"storage", cfg.StorageDriver,
		"table_prefix", cfg.TablePrefix,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to setup tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Token verification
	authenticator, err := newAuthenticator(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create authenticator: %v", err)
	}
	defer authenticator.Close()

	// Storage
	store, index, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer closeStorage()

	renderer, err := render.New(cfg.PDFEngine, cfg.PDFTimeout, logger)
	if err != nil {
		log.Fatalf("Failed to create renderer: %v", err)
	}

	// Index synchronizer runs until the server drains. Start reconciles the
	// index against storage in the background.
	indexSync := serviceDocsys.NewIndexSynchronizer(store, index, serviceDocsys.SyncConfig{
		Workers:       cfg.IndexWorkers,
		QueueSize:     cfg.IndexQueueSize,
		MaxAttempts:   cfg.IndexMaxAttempts,
		RetryBackoff:  cfg.IndexRetryBackoff,
		RetryMaxDelay: cfg.IndexRetryMaxDelay,
	}, &serviceDocsys.LogAlerter{Logger: logger}, logger)
	indexSync.Start(context.Background())

	// Create document services
	repo := serviceDocsys.NewRepository(store, indexSync, logger)
	ledger := serviceDocsys.NewLedger(store, indexSync, logger)
	forks := serviceDocsys.NewForkEngine(store, repo, logger)
	guard := serviceAuth.NewGuard(authenticator, logger)
	docService := serviceDocsys.NewDocumentService(repo, ledger, forks, guard, index, renderer, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()
	handler.NewDocumentHandler(docService, logger).Register(mux)
	if cfg.IsDebug() {
		handler.NewIndexHandler(indexSync, logger).Register(mux)
		logger.Warn("DEBUG MODE: index admin endpoints enabled")
	}

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	var h http.Handler = mux
	h = middleware.Auth()(h)
	h = middleware.Recovery(logger)(h)

	// CORS - Must be outermost to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match"},
		ExposedHeaders:   []string{"ETag", "Location"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.PDFTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	// Drain queued index syncs before storage closes
	indexSync.Close()
	// Unsynced heads are picked up by the reconcile pass on next start
	for _, f := range indexSync.Failures() {
		logger.Warn("exiting with unsynced index entry",
			"key", f.Key.String(),
			"seq", f.Seq,
			"error", f.Error,
		)
	}
	logger.Info("server stopped")
}

// newAuthenticator prefers JWKS, falling back to a shared HMAC secret
func newAuthenticator(cfg *config.Config, logger *slog.Logger) (auth.Authenticator, error) {
	if cfg.JWKSURL != "" {
		return auth.NewJWKSVerifier(cfg.JWKSURL, logger)
	}
	secret := cfg.JWTSecret
	if secret == "" {
		logger.Warn("no JWKS_URL or JWT_SECRET set, using insecure dev secret")
		secret = "dev-secret"
	}
	return auth.NewHMACVerifier(secret, logger)
}

// openStorage opens the configured storage driver. The returned func releases it.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (docsysRepo.VersionStore, docsysRepo.SearchIndex, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, nil, err
		}
		tables := postgres.NewTableNames(cfg.TablePrefix)
		if err := postgres.EnsureSchema(ctx, pool, tables); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		logger.Info("database connected",
			"max_conns", cfg.DBMaxConns,
			"min_conns", cfg.DBMinConns,
		)

		repoConfig := &postgres.RepositoryConfig{
			Pool:      pool,
			Tables:    tables,
			TxManager: postgres.NewTransactionManager(pool, logger),
			Logger:    logger,
		}
		return postgresDocsys.NewVersionStore(repoConfig), postgresDocsys.NewSearchIndex(repoConfig), pool.Close, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Warn("sqlite close failed", "error", err)
			}
		}
		return db.VersionStore(), db.SearchIndex(), closeDB, nil

	default:
		logger.Warn("using in-memory storage; documents are lost on restart")
		return memory.NewVersionStore(), memory.NewSearchIndex(), func() {}, nil
	}
}
