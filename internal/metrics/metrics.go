package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	registerOnce sync.Once

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pix_http_requests_total",
		Help: "Total HTTP requests handled by the gateway.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pix_http_request_duration_seconds",
		Help:    "HTTP request latency of the gateway.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	chargesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pix_charges_created_total",
		Help: "Charges created by the gateway.",
	})

	webhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pix_webhook_events_total",
		Help: "Inbound payment webhook events by target status.",
	}, []string{"status"})

	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pix_notifications_total",
		Help: "Outbound confirmation notifications by outcome.",
	}, []string{"outcome"})
)

// MustRegister registers the package metrics in the given registry.
func MustRegister(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		registerer.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			chargesCreatedTotal,
			webhookEventsTotal,
			notificationsTotal,
		)
	})
}

func ChargeCreated() { chargesCreatedTotal.Inc() }

func WebhookEvent(status string) { webhookEventsTotal.WithLabelValues(status).Inc() }

func NotificationFinished(outcome string) { notificationsTotal.WithLabelValues(outcome).Inc() }

// Middleware records request counts and latency for a chi router.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		labels := []string{r.Method, path, strconv.Itoa(status)}
		httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(labels...).Inc()
	})
}

// StartServer serves the Prometheus endpoint on its own listener and shuts
// it down when ctx ends.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}
