package main

import (
	"context"
	"expvar"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"tictactoe-rooms/internal/config"
	"tictactoe-rooms/internal/handlers"
	"tictactoe-rooms/internal/logging"
	"tictactoe-rooms/internal/registry"
	"tictactoe-rooms/internal/sweeper"
	"tictactoe-rooms/internal/transport/ws"
)

func main() {
	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(
		time.Duration(cfg.Room.RoomCacheTimeoutHours)*time.Hour,
		time.Duration(cfg.Room.AllRoomsCacheTimeoutMinutes)*time.Minute,
	)

	hub := ws.NewHub()
	h := handlers.New(cfg.Room, reg, hub, ctx)

	sweep := sweeper.NewService(
		reg, hub,
		time.Duration(cfg.Room.IdleRoomTimeoutSeconds)*time.Second,
		time.Duration(cfg.Room.RoomSweepIntervalSeconds)*time.Second,
		nil,
	)
	go sweep.Run(ctx)

	r := newRouter(hub, h)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.Server.Addr).Msg("http listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func newRouter(hub *ws.Hub, h *handlers.Handlers) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/ws", ws.NewHandler(hub, h))
	r.Get("/debug/vars", expvar.Handler().ServeHTTP)

	return r
}
