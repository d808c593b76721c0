package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sheetqa/sheetqa/internal/observability"
)

const (
	apiKeyHeader = "X-API-Key"
	bearerScheme = "bearer"
)

type contextKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(Identity)
	return identity, ok
}

// Middleware rejects requests whose API key or bearer token does not resolve
// through verifier. Resolved users are recorded for request logging.
func Middleware(logger *slog.Logger, verifier Verifier) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, scheme := credentials(r)
			if token == "" {
				reject(w, r, "missing", "missing credentials")
				return
			}

			identity, err := verifier.Resolve(ctx, token)
			if err != nil {
				reason := failureReason(err)
				observability.LoggerWithTrace(ctx, logger).WarnContext(ctx, "authentication failed",
					slog.String("scheme", scheme),
					slog.String("reason", reason),
					slog.String("route", r.Pattern),
					slog.String("error", err.Error()),
				)
				message := "invalid credentials"
				if reason == "expired" {
					message = "credentials expired"
				}
				reject(w, r, reason, message)
				return
			}

			ctx = observability.SetUserID(WithIdentity(ctx, identity), identity.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// credentials returns the presented token and the scheme it arrived under.
// An API key header wins over an Authorization header.
func credentials(r *http.Request) (string, string) {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key, "api_key"
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", ""
	}
	return strings.TrimSpace(token), bearerScheme
}

func failureReason(err error) string {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "expired"
	}
	return "invalid"
}

func reject(w http.ResponseWriter, r *http.Request, reason, message string) {
	observability.ObserveAuthFailure(reason)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="sheetqa"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     false,
		"message":    message,
		"data":       nil,
		"error_code": "UNAUTHORIZED",
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
