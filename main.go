package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Polqt/dacollab/content"
	"github.com/Polqt/dacollab/coordinator"
	"github.com/Polqt/dacollab/internal/config"
	"github.com/Polqt/dacollab/internal/logging"
	"github.com/Polqt/dacollab/storage"
)

func main() {
	cfg := config.Load()
	log := logging.New("dacollab", cfg.LogConsole).Level(logging.Level(cfg.LogLevel))

	db, err := storage.OpenBoltStore(cfg.BoltPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open bbolt store")
	}
	defer db.Close()

	cc := content.NewClient(cfg.ContentStoreURL)
	mgr := coordinator.NewManager(cc, db, coordinator.Config{
		DebounceIdle:    cfg.DebounceIdle,
		DebounceMaxWait: cfg.DebounceMaxWait,
		RestoreSettle:   cfg.RestoreSettleWait,
	}, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{name}", mgr.ServeWS)
	mux.HandleFunc("POST /admin/sync/{name}", mgr.SyncAdminHandler)
	mux.HandleFunc("DELETE /admin/doc/{name}", mgr.DeleteAdminHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("dacollab listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
