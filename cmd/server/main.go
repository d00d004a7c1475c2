// Command server runs the map page's API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vintagemap/internal/api"
	"vintagemap/internal/auth"
	"vintagemap/internal/config"
	"vintagemap/internal/logging"
	"vintagemap/internal/store"
	"vintagemap/internal/strava"
)

const purgeInterval = time.Hour

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	oauthCfg := auth.NewOAuthConfig(auth.Config{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		TokenURL:     cfg.Strava.TokenURL,
	})
	srv := api.NewServer(api.Deps{
		Config: cfg,
		Store:  db,
		Auth:   auth.NewManager(oauthCfg, db),
		Strava: strava.NewClient(strava.ClientConfig{
			BaseURL:     cfg.Strava.APIBaseURL,
			Timeout:     cfg.Strava.Timeout,
			MinInterval: cfg.Strava.MinInterval,
		}),
		BaseContext: ctx,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go purgeLoop(ctx, srv)

	errs := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", httpServer.Addr).Str("base_url", cfg.Server.BaseURL).Msg("listening")
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// purgeLoop ends idle sessions until ctx is done
func purgeLoop(ctx context.Context, srv *api.Server) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		if _, err := srv.PurgeSessions(ctx); err != nil {
			logging.Warn().Err(err).Msg("session purge failed")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
