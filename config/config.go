package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Default expirations, in seconds.
const (
	DefaultTokenTTLSecs       = 300     // five minutes
	DefaultBearerTokenTTLSecs = 5184000 // 60 days
	DefaultSessionTTLSecs     = 2592000 // 30 days
	DefaultSweepIntervalSecs  = 20
)

// AuthenticatorConfig selects a registered credential backend and carries
// its opaque settings block.
type AuthenticatorConfig struct {
	Name     string         `mapstructure:"name"`
	Settings map[string]any `mapstructure:"settings"`
}

// ClientConfig is one allowed OAuth2 client as it appears in the config
// file.
type ClientConfig struct {
	ClientID         string   `mapstructure:"client_id"`
	ClientSecret     string   `mapstructure:"client_secret"`
	ClientDomains    []string `mapstructure:"client_domains"`
	AllowGuestTokens bool     `mapstructure:"allow_guest_tokens"`
}

// ServerConfig holds all configuration for the server. Tags use
// mapstructure for Viper unmarshalling; every key can also be set through
// an OAUTH_-prefixed environment variable.
type ServerConfig struct {
	HTTPPort  string `mapstructure:"http_port"`
	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	Issuer          string `mapstructure:"issuer"`
	ValidateDomains bool   `mapstructure:"validate_domains"`

	TokenTTLSecs       int `mapstructure:"token_ttl_secs"`
	BearerTokenTTLSecs int `mapstructure:"bearer_token_ttl_secs"`
	SessionTTLSecs     int `mapstructure:"session_ttl_secs"`
	SweepIntervalSecs  int `mapstructure:"sweep_interval_secs"`

	// KeySeed deterministically generates the asymmetric signing key pair;
	// the same seed always reconstructs the same keys.
	KeySeed string `mapstructure:"key_seed"`

	IncludeUserInfoWithToken bool `mapstructure:"include_user_info_with_token"`

	// Signing algorithm per token type: "hmac" (HS512, per-client secret)
	// or "ecdsa" (ES512, process key pair).
	IDTokenSigning     string `mapstructure:"id_token_signing"`
	BearerTokenSigning string `mapstructure:"bearer_token_signing"`

	Authenticator  AuthenticatorConfig `mapstructure:"authenticator"`
	AllowedClients []ClientConfig      `mapstructure:"allowed_clients"`
}

// LoadConfig reads configuration from the given file (or the default
// search paths when path is empty), environment variables, and defaults.
func LoadConfig(path string) (*ServerConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/oauth-server/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("OAUTH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("validate_domains", true)
	v.SetDefault("token_ttl_secs", DefaultTokenTTLSecs)
	v.SetDefault("bearer_token_ttl_secs", DefaultBearerTokenTTLSecs)
	v.SetDefault("session_ttl_secs", DefaultSessionTTLSecs)
	v.SetDefault("sweep_interval_secs", DefaultSweepIntervalSecs)
	v.SetDefault("include_user_info_with_token", true)
	v.SetDefault("id_token_signing", "hmac")
	v.SetDefault("bearer_token_signing", "ecdsa")
	v.SetDefault("authenticator.name", "memory")

	if err := v.ReadInConfig(); err != nil {
		// Only a missing config file is acceptable; then defaults and
		// environment variables apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants that must hold before the server can
// start: a configured issuer and key seed, and unique client ids.
func (c *ServerConfig) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("configuration property 'issuer' is required")
	}
	if c.KeySeed == "" {
		return fmt.Errorf("configuration property 'key_seed' is required")
	}
	seen := make(map[string]struct{}, len(c.AllowedClients))
	for _, client := range c.AllowedClients {
		if client.ClientID == "" || client.ClientSecret == "" {
			return fmt.Errorf("every allowed client needs a client_id and client_secret")
		}
		if _, dup := seen[client.ClientID]; dup {
			return fmt.Errorf("more than one allowed client configured with id %q; client ids must be unique", client.ClientID)
		}
		seen[client.ClientID] = struct{}{}
	}
	return nil
}
