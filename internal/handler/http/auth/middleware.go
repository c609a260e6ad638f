package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DataScientest/eval-llm-in-production/internal/handler/http/respond"
)

type contextKey string

// clientIDKey is the context key under which the authenticated client's
// identifier is stored.
const clientIDKey contextKey = "client_id"

// ClientIDFromContext returns the authenticated client ID, or an empty
// string for unauthenticated (public endpoint) requests.
func ClientIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(clientIDKey).(string); ok {
		return id
	}
	return ""
}

// Middleware validates Bearer tokens issued by the given issuer. Paths in
// publicEndpoints pass through unauthenticated; a trailing "/" entry makes
// everything under that prefix public.
func Middleware(issuer *Issuer, publicEndpoints []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path, publicEndpoints) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				respond.Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims := jwt.MapClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return issuer.secret, nil
			}, jwt.WithIssuer(issuer.cfg.GetJWTIssuer()), jwt.WithExpirationRequired())
			if err != nil || !parsed.Valid {
				respond.Error(w, http.StatusUnauthorized, "invalid token")
				return
			}

			sub, _ := claims.GetSubject()
			ctx := context.WithValue(r.Context(), clientIDKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isPublic(path string, publicEndpoints []string) bool {
	for _, p := range publicEndpoints {
		if p == path {
			return true
		}
		if strings.HasSuffix(p, "/") && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
