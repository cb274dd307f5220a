package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/allinconverter/aic-core/internal/ratelimit"
)

type ctxKey int

const clientKeyCtx ctxKey = iota

// clientKey returns the rate-limit identity resolved by clientIdentity.
func clientKey(r *http.Request) string {
	if v, ok := r.Context().Value(clientKeyCtx).(string); ok {
		return v
	}
	return "unknown:unknown"
}

// clientIdentity derives the per-client key from the forwarded IP chain
// and User-Agent. Proxy headers are consulted in the order the edge sets
// them.
func clientIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		if ua == "" {
			ua = "unknown"
		}
		key := clientIP(r) + ":" + ua
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKeyCtx, key)))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimit gates a route on the sliding-window ceiling for its endpoint
// class. Successful responses carry the remaining-quota headers; rejected
// ones add Retry-After.
func (s *Server) rateLimit(class ratelimit.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := s.limiter.Check(r.Context(), clientKey(r), class)
			if err != nil {
				s.log.Error("rate limit check failed closed",
					zap.String("endpoint", r.URL.Path),
					zap.String("client", clientKey(r)),
					zap.Error(err))
				respondInternal(w)
				return
			}
			if !res.Degraded {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			}
			if !res.Allowed {
				retry := int(math.Ceil(res.RetryAfter.Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
					"error":      "Too many requests",
					"message":    "Rate limit exceeded. Please try again later.",
					"retryAfter": retry,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// adminOnly authenticates the privileged endpoints before any other work
// happens.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			respondError(w, http.StatusUnauthorized, "Unauthorized. Admin access required.")
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminAPIKey)) != 1 {
			respondError(w, http.StatusUnauthorized, "Unauthorized. Admin access required.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client", clientKey(r)))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic in handler",
					zap.String("path", r.URL.Path),
					zap.String("panic", fmt.Sprint(rec)))
				respondInternal(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
