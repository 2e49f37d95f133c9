// ABOUTME: Prometheus instrumentation for commands, provisioning requests and deliveries
// ABOUTME: Registered on a caller-supplied registry and exposed over HTTP by Serve

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vpsbot"

// Metrics holds every vpsbot collector.
type Metrics struct {
	CommandsReceived *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RemoteCommands   *prometheus.CounterVec
	RemoteDuration   *prometheus.HistogramVec
	Deliveries       *prometheus.CounterVec
	DuplicateEvents  prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CommandsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chat",
				Name:      "commands_total",
				Help:      "Chat commands received by command name",
			},
			[]string{"command"},
		),
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provision",
				Name:      "requests_total",
				Help:      "Provisioning requests by terminal state",
			},
			[]string{"state"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provision",
				Name:      "request_duration_seconds",
				Help:      "End-to-end duration of provisioning requests",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
			},
			[]string{"state"},
		),
		RemoteCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "remote",
				Name:      "commands_total",
				Help:      "Remote commands by outcome",
			},
			[]string{"outcome"},
		),
		RemoteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "remote",
				Name:      "command_duration_seconds",
				Help:      "Duration of remote sessions including connect",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
			},
			[]string{"outcome"},
		),
		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "deliveries_total",
				Help:      "Notification deliveries by target and result",
			},
			[]string{"target", "result"},
		),
		DuplicateEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chat",
				Name:      "duplicate_events_total",
				Help:      "Chat events dropped because they were already handled",
			},
		),
	}
}

// CommandReceived counts one chat command.
func (m *Metrics) CommandReceived(command string) {
	m.CommandsReceived.WithLabelValues(command).Inc()
}

// DuplicateEvent counts one dropped duplicate event.
func (m *Metrics) DuplicateEvent() {
	m.DuplicateEvents.Inc()
}

// RequestCompleted records a provisioning request's terminal state.
func (m *Metrics) RequestCompleted(state string, elapsed time.Duration) {
	m.Requests.WithLabelValues(state).Inc()
	m.RequestDuration.WithLabelValues(state).Observe(elapsed.Seconds())
}

// RemoteCommandCompleted records one remote session.
func (m *Metrics) RemoteCommandCompleted(outcome string, elapsed time.Duration) {
	m.RemoteCommands.WithLabelValues(outcome).Inc()
	m.RemoteDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// DeliveryObserved records one notification delivery attempt.
func (m *Metrics) DeliveryObserved(target string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Deliveries.WithLabelValues(target, result).Inc()
}

// Handler returns an HTTP handler exposing g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes g at path on addr until ctx is cancelled.
func Serve(ctx context.Context, addr, path string, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr, "path", path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down metrics server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
