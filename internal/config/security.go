package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SecurityConfig represents the security surface configuration: JWT token
// issuance and the endpoints exempt from authentication.
type SecurityConfig struct {
	Security struct {
		PublicEndpoints []string `yaml:"public_endpoints"`
		JWT             struct {
			SecretEnv   string `yaml:"secret_env"`
			ExpiryHours int    `yaml:"expiry_hours"`
			Issuer      string `yaml:"issuer"`
		} `yaml:"jwt"`
		APIKeys []APIKeyEntry `yaml:"api_keys"`
	} `yaml:"security"`
}

// APIKeyEntry maps a gateway API key to a client identity for token issuance.
type APIKeyEntry struct {
	ClientID string `yaml:"client_id"`
	KeyEnv   string `yaml:"key_env"`
}

// LoadSecurityConfig loads security configuration from a YAML file.
// The path parameter is expected to come from a trusted source (command-line argument or hardcoded default).
func LoadSecurityConfig(path string) (*SecurityConfig, error) {
	// #nosec G304 -- path is provided by trusted source (CLI arg or config), not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config SecurityConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateSecurityConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// validateSecurityConfig validates the loaded configuration.
func validateSecurityConfig(config *SecurityConfig) error {
	if config.Security.JWT.SecretEnv == "" {
		return fmt.Errorf("jwt secret_env is required")
	}

	if config.Security.JWT.ExpiryHours <= 0 {
		return fmt.Errorf("jwt expiry_hours must be positive")
	}

	for i, entry := range config.Security.APIKeys {
		if entry.ClientID == "" {
			return fmt.Errorf("api_keys[%d]: client_id is required", i)
		}
		if entry.KeyEnv == "" {
			return fmt.Errorf("api_keys[%d]: key_env is required", i)
		}
	}

	return nil
}

// GetPublicEndpoints returns the list of endpoints exempt from authentication.
func (c *SecurityConfig) GetPublicEndpoints() []string {
	return c.Security.PublicEndpoints
}

// GetJWTSecretEnv returns the environment variable name holding the JWT secret.
func (c *SecurityConfig) GetJWTSecretEnv() string {
	return c.Security.JWT.SecretEnv
}

// GetJWTExpiryHours returns the JWT expiry time in hours.
func (c *SecurityConfig) GetJWTExpiryHours() int {
	return c.Security.JWT.ExpiryHours
}

// GetJWTIssuer returns the JWT issuer claim value.
func (c *SecurityConfig) GetJWTIssuer() string {
	if c.Security.JWT.Issuer == "" {
		return "llm-gateway"
	}
	return c.Security.JWT.Issuer
}
