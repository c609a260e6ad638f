// Package auth provides JWT token issuance and request authentication for
// the gateway. Clients exchange a pre-shared API key for a short-lived token
// and present it as a Bearer credential on subsequent calls.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DataScientest/eval-llm-in-production/internal/config"
	"github.com/DataScientest/eval-llm-in-production/internal/handler/http/requestid"
	"github.com/DataScientest/eval-llm-in-production/internal/handler/http/respond"
)

type tokenRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// Issuer validates API keys and signs JWT tokens.
type Issuer struct {
	cfg    *config.SecurityConfig
	secret []byte
	now    func() time.Time
}

// NewIssuer creates a token issuer from the security configuration. The
// signing secret is read from the environment variable the config names.
func NewIssuer(cfg *config.SecurityConfig) *Issuer {
	return &Issuer{
		cfg:    cfg,
		secret: []byte(os.Getenv(cfg.GetJWTSecretEnv())),
		now:    time.Now,
	}
}

// validKey reports whether the client presented the API key configured for
// its client ID. Comparison is constant time.
func (i *Issuer) validKey(clientID, apiKey string) bool {
	for _, entry := range i.cfg.Security.APIKeys {
		if entry.ClientID != clientID {
			continue
		}
		expected := os.Getenv(entry.KeyEnv)
		if expected == "" {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(expected), []byte(apiKey)) == 1
	}
	return false
}

// Sign creates a token for the client.
func (i *Issuer) Sign(clientID string) (string, time.Duration, error) {
	expiry := time.Duration(i.cfg.GetJWTExpiryHours()) * time.Hour

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": clientID,
		"iss": i.cfg.GetJWTIssuer(),
		"iat": i.now().Unix(),
		"exp": i.now().Add(expiry).Unix(),
	})

	signed, err := token.SignedString(i.secret)
	return signed, expiry, err
}

// TokenHandler serves POST /auth/token: exchanges a client's API key for a
// signed JWT.
func TokenHandler(issuer *Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := requestid.FromContext(r.Context())
		logger := slog.With(slog.String("request_id", requestID))

		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respond.Error(w, http.StatusBadRequest, "invalid request")
			return
		}

		if !issuer.validKey(req.ClientID, req.APIKey) {
			logger.Warn("token issuance rejected",
				slog.String("client_id", req.ClientID),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()))
			respond.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		signed, expiry, err := issuer.Sign(req.ClientID)
		if err != nil {
			logger.Error("token generation failed",
				slog.String("error", err.Error()))
			respond.Error(w, http.StatusInternalServerError, "token generation failed")
			return
		}

		logger.Info("token issued",
			slog.String("client_id", req.ClientID),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))

		respond.JSON(w, http.StatusOK, tokenResponse{
			Token:     signed,
			ExpiresIn: int64(expiry.Seconds()),
		})
	}
}
