package server

import (
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// corsMiddleware sets the CORS headers, answers preflight requests and
// records request metrics for everything else.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	origin := s.corsOrigin
	if origin == "" {
		origin = "*"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(sr, r)
		took := time.Since(start)

		observeRequest(r.Method, r.URL.Path, sr.status, took)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path,
			"status", sr.status, "duration_ms", took.Milliseconds())
	}
}

// rateLimitMiddleware rejects requests over a limit or quota with 429. The
// upload size counts against the daily data quota.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil {
			next(w, r)
			return
		}

		client := getClientIP(r)
		err := s.rateLimiter.CheckRateLimit(client, max(r.ContentLength, 0))
		if err == nil {
			next(w, r)
			return
		}

		rateLimitRejections.WithLabelValues(limitKind(err)).Inc()
		slog.Warn("Request rejected by rate limiter", "client", client, "error", err)
		s.handleRateLimitError(w, err)
	}
}

func limitKind(err error) string {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.Type
	}
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe.Type
	}
	return "unknown"
}

// handleRateLimitError writes the 429 body and headers for err.
func (s *Server) handleRateLimitError(w http.ResponseWriter, err error) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		retry := math.Ceil(rle.RetryAfter.Seconds())
		w.Header().Set("X-RateLimit-Type", rle.Type)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rle.Limit))
		w.Header().Set("Retry-After", strconv.FormatFloat(retry, 'f', 0, 64))
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":       "rate_limit_exceeded",
			"type":        rle.Type,
			"limit":       rle.Limit,
			"retry_after": rle.RetryAfter.Seconds(),
			"message":     rle.Error(),
		})
		return
	}

	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		w.Header().Set("X-Quota-Type", qe.Type)
		w.Header().Set("X-Quota-Limit", strconv.FormatInt(qe.Limit, 10))
		w.Header().Set("X-Quota-Used", strconv.FormatInt(qe.Used, 10))
		w.Header().Set("X-Quota-Resets", qe.Resets.Format(http.TimeFormat))
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":   "quota_exceeded",
			"type":    qe.Type,
			"limit":   qe.Limit,
			"used":    qe.Used,
			"resets":  qe.Resets.Format(time.RFC3339),
			"message": qe.Error(),
		})
		return
	}

	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "internal_error",
		"message": "Rate limiting check failed",
	})
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's remote address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
