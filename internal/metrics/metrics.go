// Package metrics provides Prometheus counters for the capture pipeline.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	triggersTotal   atomic.Pointer[prometheus.CounterVec]
	restartsTotal   atomic.Pointer[prometheus.Counter]
	recordingsSaved atomic.Pointer[prometheus.CounterVec]
	failuresTotal   atomic.Pointer[prometheus.CounterVec]
	bytesEncrypted  atomic.Pointer[prometheus.Counter]
)

// Init registers all echocap metrics with reg. Call once at startup; the
// Record functions are no-ops until it has run.
func Init(reg prometheus.Registerer) error {
	triggersVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echocap",
			Subsystem: "activation",
			Name:      "triggers_total",
			Help:      "Trigger phrases matched in final transcripts",
		},
		[]string{"phrase"},
	)
	if err := reg.Register(triggersVec); err != nil {
		return fmt.Errorf("failed to register triggersTotal: %w", err)
	}

	restarts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "echocap",
		Subsystem: "activation",
		Name:      "recognizer_restarts_total",
		Help:      "Recognition feed resubscriptions after an unexpected end",
	})
	if err := reg.Register(restarts); err != nil {
		return fmt.Errorf("failed to register restartsTotal: %w", err)
	}

	savedVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echocap",
			Subsystem: "capture",
			Name:      "recordings_saved_total",
			Help:      "Encrypted recordings persisted, by capture mode",
		},
		[]string{"type"},
	)
	if err := reg.Register(savedVec); err != nil {
		return fmt.Errorf("failed to register recordingsSaved: %w", err)
	}

	failuresVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echocap",
			Subsystem: "capture",
			Name:      "failures_total",
			Help:      "Pipeline failures by error code",
		},
		[]string{"code"},
	)
	if err := reg.Register(failuresVec); err != nil {
		return fmt.Errorf("failed to register failuresTotal: %w", err)
	}

	encrypted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "echocap",
		Subsystem: "crypt",
		Name:      "ciphertext_bytes_total",
		Help:      "Bytes of ciphertext produced for saved recordings",
	})
	if err := reg.Register(encrypted); err != nil {
		return fmt.Errorf("failed to register bytesEncrypted: %w", err)
	}

	triggersTotal.Store(triggersVec)
	restartsTotal.Store(&restarts)
	recordingsSaved.Store(savedVec)
	failuresTotal.Store(failuresVec)
	bytesEncrypted.Store(&encrypted)

	return nil
}

// RecordTrigger counts a matched phrase ("start" or "stop").
func RecordTrigger(phrase string) {
	if counter := triggersTotal.Load(); counter != nil {
		counter.WithLabelValues(phrase).Inc()
	}
}

// RecordRestart counts a recognizer resubscription.
func RecordRestart() {
	if counter := restartsTotal.Load(); counter != nil {
		(*counter).Inc()
	}
}

// RecordSaved counts a persisted recording and its ciphertext size.
func RecordSaved(kind string, size int) {
	if counter := recordingsSaved.Load(); counter != nil {
		counter.WithLabelValues(kind).Inc()
	}
	if counter := bytesEncrypted.Load(); counter != nil {
		(*counter).Add(float64(size))
	}
}

// RecordFailure counts a pipeline failure by error code.
func RecordFailure(code string) {
	if counter := failuresTotal.Load(); counter != nil {
		counter.WithLabelValues(code).Inc()
	}
}

// Handler returns an HTTP handler exposing the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
// addr is expected to be a loopback address; config validation enforces that.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// GetMetricsText returns the Prometheus text-format output from a registry.
func GetMetricsText(g prometheus.Gatherer) (string, error) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler(g).ServeHTTP(w, req)

	body, err := io.ReadAll(w.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metrics output: %w", err)
	}
	return string(body), nil
}
