package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"genproxy/internal/engine"
	"genproxy/internal/gateway"
	"genproxy/internal/http/handlers"
	"genproxy/internal/http/httpapi"
	"genproxy/internal/infra"
	"genproxy/internal/infra/geoip"
	"genproxy/internal/jobstore"
	"genproxy/internal/middleware"
	"genproxy/internal/poller"
	"genproxy/internal/storage"
	"genproxy/internal/token"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	store, cleanup, err := buildJobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise job store")
	}
	defer cleanup()

	assets, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise asset storage")
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	var tokens token.Provider = token.Static(cfg.GeminiAPIKey)
	if cfg.GeminiTokenURL != "" {
		tokens = token.NewCachingProvider(token.HTTPSource(httpClient, cfg.GeminiTokenURL), 30*time.Second)
	}

	gw, err := gateway.NewGemini(gateway.Options{
		BaseURL:    cfg.GeminiBaseURL,
		ImageModel: cfg.GeminiModel,
		VideoModel: cfg.VideoModel,
		Tokens:     tokens,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise gateway")
	}

	pol := poller.New(logger)
	eng := engine.New(engine.Options{
		Store:             store,
		Gateway:           gw,
		Assets:            assets,
		Poller:            pol,
		Logger:            logger,
		ImagePollInterval: cfg.ImagePollInterval,
		VideoPollInterval: cfg.VideoPollInterval,
		StaleAfter:        cfg.JobStaleAfter,
	})

	var country middleware.CountryLookup
	if cfg.GeoIPDBPath != "" {
		resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
		if err != nil {
			logger.Warn().Err(err).Msg("geoip database unavailable, locale detection degraded")
		} else {
			country = resolver.CountryCode
		}
	}

	app := handlers.NewApp(eng, assets, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimitPerMin,
		Country:        country,
		DefaultLocale:  cfg.DefaultLocale,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// Unblock in-flight poll waits, then sweep any remaining pollers.
	eng.Shutdown()
	pol.CancelAll()
	logger.Info().Msg("server stopped")
}

func buildJobStore(ctx context.Context, cfg *infra.Config) (jobstore.Store, func(), error) {
	switch cfg.JobStoreBackend {
	case "postgres":
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return jobstore.NewPostgresStore(pool, cfg.JobTTL), pool.Close, nil
	case "memory":
		return jobstore.NewMemoryStore(cfg.JobTTL), func() {}, nil
	default:
		rdb, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return jobstore.NewRedisStore(rdb, cfg.JobTTL), func() { _ = rdb.Close() }, nil
	}
}
