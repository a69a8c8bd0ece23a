package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"feedscroll/log"
	fsmiddleware "feedscroll/middleware"
	"feedscroll/oops"
)

// NewRouter serves metrics and, when a hub is given, the websocket progress stream.
func NewRouter(recorder *Recorder, maybeHub *ProgressHub) chi.Router {
	r := chi.NewRouter()
	r.Use(fsmiddleware.Logger)
	r.Use(fsmiddleware.Recoverer)

	metricsHandler := promhttp.HandlerFor(recorder.Registry, promhttp.HandlerOpts{}) //nolint:exhaustruct
	r.Get("/metrics", metricsHandler.ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	if maybeHub != nil {
		r.Get("/progress", maybeHub.ServeHTTP)
	}
	return r
}

// Serve runs the metrics endpoint until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{ //nolint:exhaustruct
		Addr:              addr,
		Handler:           otelhttp.NewHandler(handler, "telemetry"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")

	select {
	case err := <-errCh:
		return oops.Wrapf(err, "serving metrics on %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.Wrap(err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return oops.Wrap(err)
	}
	return nil
}
