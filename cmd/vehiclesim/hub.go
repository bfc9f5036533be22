package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modsync/vehicle/internal/transport/websocket"
)

const relayPath = "/relay"

// serveHub runs the websocket relay until ctx is done.
func serveHub(ctx context.Context, addr, secret string, log *slog.Logger) error {
	hub := websocket.NewHub(secret, log)
	defer hub.Close()

	mux := http.NewServeMux()
	mux.Handle(relayPath, hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "ok %d\n", len(hub.Peers()))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Relay hub listening", "addr", addr, "path", relayPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay hub: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info("Relay hub shutting down", "peers", len(hub.Peers()))
	return srv.Shutdown(shutdownCtx)
}
