package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	flipshare "github.com/flipshare/flipshare"
	"github.com/flipshare/flipshare/internal/config"
	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/geo"
	"github.com/flipshare/flipshare/internal/handler"
	"github.com/flipshare/flipshare/internal/media"
	"github.com/flipshare/flipshare/internal/reconcile"
	"github.com/flipshare/flipshare/internal/registry"
	"github.com/flipshare/flipshare/internal/sse"
	"github.com/flipshare/flipshare/internal/tracking"
	"github.com/flipshare/flipshare/internal/webhook"
)

func Run(ctx context.Context, cfg *config.Config) error {
	// Open database
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	// Run migrations
	if err := db.Migrate(database, flipshare.MigrationFS); err != nil {
		return err
	}
	slog.Info("database ready")

	// Media store
	if cfg.CloudinaryCloudName == "" {
		return errors.New("CLOUDINARY_CLOUD_NAME is required")
	}
	store, err := media.NewCloudinaryStore(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
	if err != nil {
		return err
	}
	slog.Info("media store ready", "cloud", cfg.CloudinaryCloudName)

	// Geo provider
	var geoProvider geo.Provider
	if cfg.GeoEnabled {
		geoProvider = geo.NewIPAPIProvider()
	}

	engine := tracking.NewEngine(database, geoProvider)
	reg := registry.New(database, store)
	webhookDispatcher := &webhook.Dispatcher{DB: database}
	sseHub := sse.New()

	// Periodic counter rebuild and webhook retry
	reconciler := &reconcile.Reconciler{
		DB:       database,
		Engine:   engine,
		Webhooks: webhookDispatcher,
		Interval: cfg.ReconcileInterval,
	}
	reconciler.Start(ctx)
	defer reconciler.Stop()

	// Rate limiters: tight on login, generous on public tracking
	authRL := handler.NewRateLimiter(5.0/60.0, 5)
	defer authRL.Stop()
	trackRL := handler.NewRateLimiter(10, 30)
	defer trackRL.Stop()

	h := handler.New(database, cfg, reg, engine, webhookDispatcher, sseHub)
	router := h.Routes(authRL, trackRL)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		srv.Shutdown(context.Background())
	}()

	slog.Info("server starting", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
