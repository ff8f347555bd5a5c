package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jkaberg/smartstick/internal/config"
	"github.com/jkaberg/smartstick/internal/link"
)

// Handler returns the simulator's HTTP routes. Links upgraded on /simulator
// are served until ctx is done or the peer goes away.
func (h *Host) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/simulator", func(w http.ResponseWriter, r *http.Request) {
		conn, err := link.Upgrade(w, r, h.logger)
		if err != nil {
			h.logger.WithError(err).Warn("WebSocket upgrade failed")
			return
		}
		if err := h.Serve(ctx, conn); err != nil {
			h.logger.WithError(err).Warn("Simulator connection failed")
		}
	})
	return mux
}

func (h *Host) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"simulator": "running",
	})
}

// ListenAndServe runs the HTTP front on addr until ctx is cancelled, then
// shuts down and waits for served links to finish.
func (h *Host) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return h.serveListener(ctx, ln)
}

func (h *Host) serveListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.WithField("addr", ln.Addr().String()).Info("Simulator listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	h.Wait()
	h.logger.Info("Simulator stopped")
	return nil
}
