package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Amund211/stockpile/internal/adapters/backend"
	"github.com/Amund211/stockpile/internal/adapters/database"
	"github.com/Amund211/stockpile/internal/app"
	"github.com/Amund211/stockpile/internal/config"
	"github.com/Amund211/stockpile/internal/logging"
	"github.com/Amund211/stockpile/internal/lowmemory"
	"github.com/Amund211/stockpile/internal/ports"
	"github.com/Amund211/stockpile/internal/ratelimiting"
	"github.com/Amund211/stockpile/internal/reporting"
	"github.com/Amund211/stockpile/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "golang.org/x/crypto/x509roots/fallback"
)

const SERVICE_NAME = "stockpile"

// Bounds how hard cold loads may hit the asset store
const (
	STORE_QUERIES_PER_WINDOW = 64
	STORE_QUERY_WINDOW       = 1 * time.Second
	STORE_QUERY_TIMEOUT      = 10 * time.Second
)

// Served by the stub backend in development
func stubAssets() []backend.StoredAsset {
	return []backend.StoredAsset{
		{Address: "prefabs/card.png", Reference: "8f1c", Labels: []string{"cards", "ui"}, ContentType: "image/png", Data: []byte("card")},
		{Address: "prefabs/back.png", Labels: []string{"cards"}, ContentType: "image/png", Data: []byte("back")},
		{Address: "prefabs/table.glb", Reference: "0a7e", Labels: []string{"scene"}, ContentType: "model/gltf-binary", Data: []byte("table")},
		{Address: "audio/shuffle.ogg", Labels: []string{"sfx"}, ContentType: "audio/ogg", Data: []byte("shuffle")},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceID := uuid.New().String()
	logger := logging.NewServiceLogger(os.Stdout, slog.LevelInfo).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	shutdownOTel, err := telemetry.SetupOTelSDK(ctx, SERVICE_NAME, instanceID)
	if err != nil {
		fail("Failed to initialize OpenTelemetry", "error", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
		}
	}()
	logger.Info("Initialized OpenTelemetry")

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	var store backend.AssetStore
	switch config.Backend() {
	case "stub":
		memoryStore, err := backend.NewMemoryStore(stubAssets()...)
		if err != nil {
			fail("Failed to initialize stub asset store", "error", err.Error())
		}
		store = memoryStore
		logger.Info("Using stub asset store")
	default:
		logger.Info("Initializing database connection")
		db, err := database.NewPostgresDatabaseFromConfig(config)
		if err != nil {
			fail("Failed to initialize database", "error", err.Error())
		}
		defer db.Close()
		logger.Info("Initialized database connection")

		schemaName := database.GetSchemaName(!config.IsProduction())

		err = database.NewDatabaseMigrator(db, logger.With("component", "migrator")).Migrate(ctx, schemaName)
		if err != nil {
			fail("Failed to migrate database", "error", err.Error())
		}

		store = backend.NewPostgresStore(db, schemaName)
		logger.Info("Initialized PostgresStore")
	}

	storeBackend := backend.NewStoreBackend(store, backend.Options{
		QueryTimeout: STORE_QUERY_TIMEOUT,
		Limiter:      ratelimiting.NewWindowLimiter(STORE_QUERIES_PER_WINDOW, STORE_QUERY_WINDOW, time.Now, time.After),
		Logger:       logger.With("component", "backend"),
	})

	manager := app.NewManager(storeBackend, app.Options{
		MaxCachedEntries:   config.MaxCachedEntries(),
		RetainReleased:     config.RetainReleasedEntries(),
		PoolingEnabled:     config.PoolingEnabled(),
		MaxPooledPerKey:    config.MaxPooledPerKey(),
		LoadTimeout:        config.LoadTimeout(),
		PreloadConcurrency: config.PreloadConcurrency(),
		Logger:             logger.With("component", "manager"),
	})
	defer manager.Close()
	logger.Info("Initialized Manager")

	if limit := config.LowMemorySoftLimitBytes(); limit > 0 {
		watcher := lowmemory.NewWatcher(manager.LowMemorySweep, lowmemory.Options{
			SoftLimitBytes: limit,
			Logger:         logger.With("component", "lowmemory"),
		})
		go watcher.Run(ctx)
		logger.Info("Started low memory watcher", "softLimitBytes", limit)
	}

	mux := http.NewServeMux()

	mux.HandleFunc(
		"POST /v1/assets/load/{key...}",
		ports.MakeLoadAssetHandler(
			manager.Load,
			logger.With("port", "load"),
			sentryMiddleware,
		),
	)
	mux.HandleFunc(
		"POST /v1/assets/unload/{key...}",
		ports.MakeUnloadAssetHandler(
			manager.Unload,
			logger.With("port", "unload"),
			sentryMiddleware,
		),
	)
	mux.HandleFunc(
		"POST /v1/instances/{key...}",
		ports.MakeInstantiateHandler(
			manager.Instantiate,
			logger.With("port", "instantiate"),
			sentryMiddleware,
		),
	)
	mux.HandleFunc(
		"DELETE /v1/instances/{id}",
		ports.MakeReleaseInstanceHandler(
			manager.ReleaseInstanceByID,
			logger.With("port", "releaseinstance"),
			sentryMiddleware,
		),
	)
	mux.HandleFunc(
		"POST /v1/preload",
		ports.MakePreloadHandler(
			manager.Preload,
			logger.With("port", "preload"),
			sentryMiddleware,
		),
	)
	mux.HandleFunc(
		"POST /v1/release-all",
		ports.MakeReleaseAllHandler(
			manager.ReleaseAll,
			logger.With("port", "releaseall"),
			sentryMiddleware,
		),
	)
	mux.HandleFunc(
		"POST /v1/low-memory",
		ports.MakeLowMemoryHandler(
			manager.LowMemorySweep,
			logger.With("port", "lowmemory"),
			sentryMiddleware,
		),
	)
	mux.HandleFunc(
		"GET /v1/debug/dump",
		ports.MakeDumpHandler(
			manager.Dump,
			logger.With("port", "dump"),
			sentryMiddleware,
		),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port()),
		Handler:           otelhttp.NewHandler(mux, SERVICE_NAME),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down server", "error", err.Error())
		}
	}()

	logger.Info("Init complete", "port", config.Port())
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
		logger.Info("Server shutdown")
	} else {
		fail("Server error", "error", err.Error())
	}
}
