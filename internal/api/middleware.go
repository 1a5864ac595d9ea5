package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/apperr"
	"github.com/safar/flycar/internal/auth"
	"github.com/safar/flycar/internal/config"
	"github.com/safar/flycar/internal/logger"
)

const requestIDHeader = "X-Request-Id"

func requestID(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			next.ServeHTTP(w, r.WithContext(log.WithRequestID(r.Context(), reqID)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := log.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			log.Info(log.WithFields(ctx, map[string]any{
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			}), "request.complete")
		})
	}
}

func recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("panic: %v", rec)
					writeError(r.Context(), log, w, apperr.Wrap(apperr.CodeInternal, err, "panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate attaches the bearer token's identity to the request. Requests
// without a token pass through anonymously; a bad token is rejected.
func authenticate(cfg config.JWTConfig, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}

			claims, err := auth.ParseAccessToken(cfg, token)
			if err != nil {
				writeError(r.Context(), log, w, apperr.Wrap(apperr.CodeUnauthorized, err, "invalid token"))
				return
			}

			identity := claims.Identity()
			ctx := auth.WithIdentity(r.Context(), identity)
			ctx = log.WithFields(ctx, map[string]any{
				"user_id":    identity.UserID.String(),
				"actor_role": string(identity.Role),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireAuth(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.FromContext(r.Context()).Authenticated() {
				writeError(r.Context(), log, w, apperr.New(apperr.CodeUnauthorized, "missing credentials"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireRole(role auth.Role, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.FromContext(r.Context()).Role != role {
				writeError(r.Context(), log, w, apperr.New(apperr.CodeForbidden, "role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
