// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/beacon/pkg/metrics"
)

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Milliseconds())
		statusStr := strconv.Itoa(wrapped.status)

		metrics.RecordHTTPRequest(endpoint, r.Method, statusStr)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, statusStr, durationMs)

		if wrapped.status >= http.StatusBadRequest {
			class := errorClass(wrapped.status)
			metrics.RecordErrorByEndpoint(endpoint, r.Method, class)
			metrics.RecordErrorByType(class, errorSeverity(wrapped.status))
			metrics.RecordErrorLatency("http", class, durationMs)
		}
	}
}

// errorClass buckets a status code into the labels the vote taxonomy
// produces, so dashboards can separate backpressure and conflicts from
// plain client mistakes.
func errorClass(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "backpressure"
	case http.StatusServiceUnavailable:
		return "storage_unavailable"
	}
	if status >= http.StatusInternalServerError {
		return "server_error"
	}
	return "client_error"
}

// errorSeverity grades a status code for alerting labels.
func errorSeverity(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "high"
	case status == http.StatusConflict || status == http.StatusTooManyRequests:
		// Retryable by the client, worth watching but not paging.
		return "medium"
	case status >= http.StatusBadRequest:
		return "low"
	default:
		return "low"
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}
