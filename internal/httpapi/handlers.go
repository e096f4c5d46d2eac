// Package httpapi exposes the two supplemental HTTP endpoints a host
// process wires alongside the datagram transport: /healthz for liveness
// probes and /api/stats for diagnostics. Only /api/stats is rate-limited,
// the same way the teacher repo's stats endpoint is; /healthz is not.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"stepserver/internal/logging"
)

// Stats is the diagnostic snapshot /api/stats serves.
type Stats struct {
	Connections         int    `json:"connections"`
	Participants        int    `json:"participants"`
	AuthoritativeStepID uint32 `json:"authoritative_step_id"`
}

// StatsProvider supplies the current diagnostic snapshot.
type StatsProvider interface {
	Stats() Stats
}

// HealthProvider reports whether the server is ready to serve traffic.
type HealthProvider interface {
	Healthy() (ok bool, message string)
}

// StatsHandler serves provider.Stats() as JSON, rejecting requests beyond
// limiter's allowance with 429.
func StatsHandler(provider StatsProvider, limiter *SlidingWindowLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.LoggerFromContext(r.Context()).With(logging.String("handler", "stats"))
		if !limiter.Allow() {
			w.Header().Set("X-RateLimit-Rejected-Total", strconv.FormatUint(limiter.Rejected(), 10))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(provider.Stats()); err != nil {
			logger.Error("encode stats response failed", logging.Error(err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}
}

type healthzResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthzHandler serves provider.Healthy() as a simple liveness probe.
func HealthzHandler(provider HealthProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.LoggerFromContext(r.Context()).With(logging.String("handler", "healthz"))
		ok, message := provider.Healthy()
		resp := healthzResponse{Status: "ok", Message: message}
		code := http.StatusOK
		if !ok {
			resp.Status = "error"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		if code != http.StatusOK {
			w.WriteHeader(code)
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("encode healthz response failed", logging.Error(err))
		}
	}
}
