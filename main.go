package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/debemdeboas/lectern/internal/autosave"
	"github.com/debemdeboas/lectern/internal/config"
	"github.com/debemdeboas/lectern/internal/db"
	"github.com/debemdeboas/lectern/internal/editor"
	"github.com/debemdeboas/lectern/internal/logger"
	"github.com/debemdeboas/lectern/internal/render"
	"github.com/debemdeboas/lectern/internal/repository"
	"github.com/debemdeboas/lectern/internal/sse"
)

const shutdownTimeout = 15 * time.Second

func main() {
	config.LoadEnv()
	if err := config.LoadConfig(config.Path()); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg := config.AppConfig

	log := logger.New("lectern", cfg.Logging.Level)
	setLoggers(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Stack().Err(err).Msg("Server stopped")
	}
}

func setLoggers(l zerolog.Logger) {
	config.SetLogger(logger.Component(l, "config"))
	db.SetLogger(logger.Component(l, "db"))
	repository.SetLogger(logger.Component(l, "repository"))
	autosave.SetLogger(logger.Component(l, "autosave"))
	editor.SetLogger(logger.Component(l, "editor"))
	render.SetLogger(logger.Component(l, "render"))
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	repo, closer, err := repository.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closer.Close()

	opts := editor.ManagerOptions{
		Debounce:    cfg.Autosave.Debounce,
		SaveTimeout: cfg.Autosave.SaveTimeout,
	}

	var renderer *render.Renderer
	if cfg.Preview.Enabled {
		renderer = render.NewRenderer(cfg.Preview.Renderer, cfg.Preview.SyntaxTheme)
		opts.OnClose = renderer.Forget
	}

	clients := sse.NewSSEClients()
	manager := editor.NewManager(repo, clients, opts)

	mux := http.NewServeMux()
	editor.NewHandler(manager, repo, clients, renderer).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           secureHeaders(noCache(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("storage", cfg.Storage.Driver).
			Dur("debounce", cfg.Autosave.Debounce).
			Msg("Listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if lost := manager.Shutdown(shutdownCtx); lost > 0 {
		log.Warn().Int("sessions", lost).Msg("Some drafts could not be saved")
	}
	return srv.Shutdown(shutdownCtx)
}

func noCache(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(config.HCacheControl, "no-cache")
		h.ServeHTTP(w, r)
	})
}

func secureHeaders(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "deny")
		w.Header().Set("X-Content-Type-Options", "nosniff")

		h.ServeHTTP(w, r)
	})
}
