package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/example/ytdash/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	headerChannelID   = "X-YouTube-Channel-Id"
	headerAPIKey      = "X-YouTube-Api-Key"
	headerOperatorKey = "X-Operator-Key"
	headerRequestID   = "X-Request-Id"
)

type ctxKey int

const requestIDKey ctxKey = iota

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// OperatorAuth guards operator endpoints with a bcrypt-hashed shared key.
// An empty hash disables them.
func (a *App) OperatorAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.OperatorKeyHash == "" {
			writeError(w, http.StatusForbidden, "OPERATOR_DISABLED", "Operator endpoints are disabled")
			return
		}
		key := r.Header.Get(headerOperatorKey)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Operator key required")
			return
		}
		if !compareKey(a.OperatorKeyHash, key) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid operator key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func compareKey(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// CORS allows the configured frontend origin.
func (a *App) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (a.FrontendURL == "" || origin == a.FrontendURL) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+headerChannelID+", "+headerAPIKey+", "+headerOperatorKey)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimiter hands out one token bucket per channel.
type RateLimiter struct {
	perMinute int
	limiters  map[model.ChannelID]*rate.Limiter
	mu        sync.RWMutex
}

func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &RateLimiter{
		perMinute: perMinute,
		limiters:  make(map[model.ChannelID]*rate.Limiter),
	}
}

func (rl *RateLimiter) getLimiter(id model.ChannelID) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[id]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		limiter, exists = rl.limiters[id]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(rl.perMinute)/60, rl.perMinute)
			rl.limiters[id] = limiter
		}
		rl.mu.Unlock()
	}

	return limiter
}

// RateLimit throttles forced refreshes per channel. Requests without a
// channel pass through and are rejected by the handler.
func (a *App) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := model.ChannelID(r.Header.Get(headerChannelID))
		if id == "" || a.rateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if !a.rateLimiter.getLimiter(id).Allow() {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many refreshes for this channel, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logging assigns a request id and logs each request once it completes.
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

		a.Logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.String("channel_id", r.Header.Get(headerChannelID)),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}
