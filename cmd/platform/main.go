package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/labinsight/platform/internal/adapters/lis"
	"github.com/labinsight/platform/internal/audit"
	"github.com/labinsight/platform/internal/history"
	"github.com/labinsight/platform/internal/knowledge"
	"github.com/labinsight/platform/internal/narrative"
	"github.com/labinsight/platform/internal/pipeline"
	reportapi "github.com/labinsight/platform/internal/report/api"
	"github.com/labinsight/platform/internal/shared/config"
	"github.com/labinsight/platform/internal/shared/database"
	"github.com/labinsight/platform/internal/shared/logging"
	"github.com/labinsight/platform/internal/shared/metrics"
	"github.com/labinsight/platform/internal/specialist"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
	Local  *knowledge.LocalRetriever
	Sink   *audit.KurrentDBSink
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init("labinsight", cfg.Server.Env)

	app := &App{Config: cfg}

	// Database (optional - analysis degrades to no-history mode without it)
	var store pipeline.HistoryStore
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Warn().Err(err).Msg("database not available, running without history")
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			log.Warn().Err(err).Msg("migration failed")
		}
		store = history.NewStore(db.Pool)
	}

	// Audit stream over KurrentDB (optional)
	var sink audit.Sink
	esdbClient, err := audit.Connect(cfg.KurrentDB)
	if err != nil {
		log.Warn().Err(err).Msg("kurrentdb not available, running without audit stream")
	} else {
		kdbSink := audit.NewKurrentDBSink(esdbClient)
		if err := kdbSink.Initialize(ctx); err != nil {
			log.Warn().Err(err).Msg("audit chain initialization failed")
		} else {
			app.Sink = kdbSink
			sink = kdbSink
			log.Info().Msg("audit stream initialized")
		}
	}

	// Knowledge retrieval: local Typesense index plus web search
	var local, web knowledge.Retriever

	localRetriever := knowledge.NewLocalRetriever(
		cfg.Knowledge.LocalURL,
		cfg.Knowledge.LocalAPIKey,
		cfg.Knowledge.LocalCollection,
	)
	if err := localRetriever.InitSchema(ctx); err != nil {
		log.Warn().Err(err).Msg("local knowledge index not available")
	} else {
		app.Local = localRetriever
		local = localRetriever
	}

	if cfg.Knowledge.WebAPIKey != "" {
		web = knowledge.NewWebRetriever(
			cfg.Knowledge.WebURL,
			cfg.Knowledge.WebAPIKey,
			cfg.Knowledge.WebRateLimit,
		)
	} else {
		log.Warn().Msg("web search api key not set, running without web retrieval")
	}

	// Read-through cache over the retrievers
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if local != nil {
			local = knowledge.NewCachedRetriever(local, rdb, "local", cfg.Redis.CacheTTL, log.Logger)
		}
		if web != nil {
			web = knowledge.NewCachedRetriever(web, rdb, "web", cfg.Redis.CacheTTL, log.Logger)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("knowledge cache enabled")
	}

	// Narrative generation
	generator, err := narrative.NewClient(narrative.Config{
		Endpoint:    cfg.Narrative.Endpoint,
		APIKey:      cfg.Narrative.APIKey,
		Model:       cfg.Narrative.Model,
		MaxTokens:   cfg.Narrative.MaxTokens,
		Temperature: cfg.Narrative.Temperature,
		Timeout:     cfg.Narrative.Timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build narrative client: %v\n", err)
		os.Exit(1)
	}

	runnerCfg := pipeline.DefaultConfig()
	runnerCfg.HistoryReports = cfg.Pipeline.HistoryReports
	runnerCfg.LongTrendMinPoints = cfg.Pipeline.LongTrendMinPoints
	runnerCfg.LongTrendEpsilon = cfg.Pipeline.LongTrendEpsilon
	runnerCfg.LocalTopK = cfg.Knowledge.LocalTopK
	runnerCfg.WebMaxResults = cfg.Knowledge.WebMaxResults

	runner := pipeline.NewRunner(
		store,
		local,
		web,
		generator,
		specialist.NewRecommender(generator),
		sink,
		runnerCfg,
		log.Logger,
	)

	// Legacy LIS importer (optional)
	if cfg.LIS.Enabled && store != nil {
		lisCfg := lis.DefaultConfig()
		lisCfg.Host = cfg.LIS.Host
		lisCfg.Port = cfg.LIS.Port
		lisCfg.User = cfg.LIS.User
		lisCfg.Password = cfg.LIS.Password
		lisCfg.Database = cfg.LIS.Database
		lisCfg.SSLMode = cfg.LIS.SSLMode
		lisCfg.ResultTable = cfg.LIS.ResultTable
		lisCfg.PollInterval = cfg.LIS.PollInterval

		importer := lis.New(lisCfg, store, log.Logger)
		if err := importer.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("lis importer failed to start")
		} else {
			defer importer.Stop(context.Background())
			log.Info().Str("host", cfg.LIS.Host).Msg("lis importer started")
		}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(metrics.Middleware)

	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		reportHandler := reportapi.NewHandler(runner, store)
		r.Mount("/reports", reportHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		close(done)
	}()

	log.Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Bool("database", app.DB != nil).
		Bool("audit", app.Sink != nil).
		Msg("labinsight platform started")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	log.Info().Msg("server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "LabInsight Analysis Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.Local != nil {
			if err := app.Local.Health(r.Context()); err != nil {
				checks["knowledge"] = "not ready: " + err.Error()
			} else {
				checks["knowledge"] = "ready"
			}
		} else {
			checks["knowledge"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
