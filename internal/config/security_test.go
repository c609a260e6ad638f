package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSecurityYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "security.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSecurityConfig_Valid(t *testing.T) {
	path := writeSecurityYAML(t, `
security:
  public_endpoints:
    - /monitoring/health
    - /monitoring/metrics
  jwt:
    secret_env: GATEWAY_JWT_SECRET
    expiry_hours: 24
    issuer: llm-gateway
  api_keys:
    - client_id: dashboard
      key_env: DASHBOARD_API_KEY
`)

	config, err := LoadSecurityConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/monitoring/health", "/monitoring/metrics"}, config.GetPublicEndpoints())
	assert.Equal(t, "GATEWAY_JWT_SECRET", config.GetJWTSecretEnv())
	assert.Equal(t, 24, config.GetJWTExpiryHours())
	assert.Equal(t, "llm-gateway", config.GetJWTIssuer())
	require.Len(t, config.Security.APIKeys, 1)
	assert.Equal(t, "dashboard", config.Security.APIKeys[0].ClientID)
}

func TestLoadSecurityConfig_DefaultIssuer(t *testing.T) {
	path := writeSecurityYAML(t, `
security:
  jwt:
    secret_env: GATEWAY_JWT_SECRET
    expiry_hours: 1
`)

	config, err := LoadSecurityConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "llm-gateway", config.GetJWTIssuer())
}

func TestLoadSecurityConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing secret env",
			content: `
security:
  jwt:
    expiry_hours: 24
`,
		},
		{
			name: "zero expiry",
			content: `
security:
  jwt:
    secret_env: GATEWAY_JWT_SECRET
    expiry_hours: 0
`,
		},
		{
			name: "api key without client id",
			content: `
security:
  jwt:
    secret_env: GATEWAY_JWT_SECRET
    expiry_hours: 24
  api_keys:
    - key_env: SOME_KEY
`,
		},
		{
			name:    "malformed yaml",
			content: "security: [unclosed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSecurityYAML(t, tt.content)
			_, err := LoadSecurityConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadSecurityConfig_MissingFile(t *testing.T) {
	_, err := LoadSecurityConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
