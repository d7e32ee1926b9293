package http

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelhttp "go.opentelemetry.io/otel/propagation"

	"github.com/radzio23/gigster/internal/idempotency"
	"github.com/radzio23/gigster/internal/observability"
)

type Limiter interface {
	Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error)
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idempotency.Response, error)
	Set(ctx context.Context, key string, resp idempotency.Response) error
	Begin(ctx context.Context, key string) (bool, error)
	End(ctx context.Context, key string) error
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

// LoggerMiddleware puts a request-scoped logger in the context and records
// one log line and one counter sample per request.
func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := logger.WithField("request_id", middleware.GetReqID(r.Context()))
			ctx := observability.ContextWithLogger(r.Context(), entry)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
			entry.WithFields(map[string]interface{}{
				"method":      r.Method,
				"route":       route,
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Debug("request served")
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := routePattern(r)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", ww.Status()),
		)
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

// IPRateLimitMiddleware limits requests per client address. Limiter errors
// let the request through.
func IPRateLimitMiddleware(rl Limiter, perMinute int, logger observability.Logger) func(next http.Handler) http.Handler {
	return rateLimit(rl, perMinute, logger, func(r *http.Request) (string, bool) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		return "ip:" + host, true
	})
}

// UserRateLimitMiddleware limits requests per authenticated user. It must run
// after JWTMiddleware.
func UserRateLimitMiddleware(rl Limiter, perMinute int, logger observability.Logger) func(next http.Handler) http.Handler {
	return rateLimit(rl, perMinute, logger, func(r *http.Request) (string, bool) {
		userID, ok := UserIDFrom(r.Context())
		if !ok {
			return "", false
		}
		return "user:" + strconv.FormatInt(userID, 10), true
	})
}

func rateLimit(rl Limiter, perMinute int, logger observability.Logger, keyOf func(r *http.Request) (string, bool)) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyOf(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			allowed, err := rl.Allow(r.Context(), key, perMinute, time.Minute)
			if err != nil {
				observability.LoggerFrom(r.Context(), logger).Warn("rate limiter unavailable: ", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				observability.RateLimitExceeded.Inc()
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyMiddleware requires an Idempotency-Key on POST requests and
// replays the stored response when the same user repeats a key. Responses
// with a 5xx status are not stored so the request can be retried. It must run
// after JWTMiddleware.
func IdempotencyMiddleware(idemp IdempotencyStore, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				http.Error(w, "missing Idempotency-Key", http.StatusBadRequest)
				return
			}
			if !idempotency.ValidKey(key) {
				http.Error(w, "invalid Idempotency-Key", http.StatusBadRequest)
				return
			}
			userID, ok := UserIDFrom(r.Context())
			if !ok {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			scoped := strconv.FormatInt(userID, 10) + ":" + key
			log := observability.LoggerFrom(r.Context(), logger).WithField("idempotency_key", key)

			existing, err := idemp.Get(r.Context(), scoped)
			if err != nil {
				log.Error("idempotency lookup failed: ", err)
				w.Header().Set("Retry-After", "1")
				http.Error(w, "service unavailable, try again", http.StatusServiceUnavailable)
				return
			}
			if existing != nil {
				replay(w, existing)
				return
			}

			claimed, err := idemp.Begin(r.Context(), scoped)
			if err != nil {
				log.Error("idempotency lock failed: ", err)
				w.Header().Set("Retry-After", "1")
				http.Error(w, "service unavailable, try again", http.StatusServiceUnavailable)
				return
			}
			if !claimed {
				http.Error(w, "a request with this Idempotency-Key is in progress", http.StatusConflict)
				return
			}
			defer func() {
				if err := idemp.End(context.WithoutCancel(r.Context()), scoped); err != nil {
					log.Warn("idempotency unlock failed: ", err)
				}
			}()

			// A request holding the key may have finished between the lookup
			// and the claim.
			existing, err = idemp.Get(r.Context(), scoped)
			if err != nil {
				log.Error("idempotency lookup failed: ", err)
				w.Header().Set("Retry-After", "1")
				http.Error(w, "service unavailable, try again", http.StatusServiceUnavailable)
				return
			}
			if existing != nil {
				replay(w, existing)
				return
			}

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 || status >= http.StatusInternalServerError {
				return
			}
			resp := idempotency.Response{Status: status, Result: body.Bytes()}
			if err := idemp.Set(context.WithoutCancel(r.Context()), scoped, resp); err != nil {
				log.Warn("idempotency store failed: ", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, resp *idempotency.Response) {
	if resp.Status < http.StatusBadRequest {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(resp.Status)
	w.Write(resp.Result)
}
