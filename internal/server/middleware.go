package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/backtrack-hq/chatcore/internal/auth"
	"github.com/backtrack-hq/chatcore/internal/identity"
)

// maxBodyBytes caps request bodies at 64kb.
const maxBodyBytes = 64 << 10

// limitBody bounds how much of a request body handlers will read. An
// oversized body surfaces as a decode error in the handler.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// rateLimit enforces the per-caller request budget. Authenticated
// callers are keyed by user id, anonymous ones by remote IP.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if user := auth.UserFromContext(r.Context()); user != nil && user.State != identity.StateAnonymous {
			key = user.ID
		}

		ok, remaining, reset := s.limiter.Allow(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.limiter.Max()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request when debug logging is on.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
