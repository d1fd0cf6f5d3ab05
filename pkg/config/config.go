package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"
)

// Setting keys recognized in the JSON settings file. Environment variables use
// the SAMLGATE_ prefix with the upper-snake form of the same names.
const (
	KeyEnabled            = "enabled"
	KeyProviderID         = "providerId"
	KeyProviderName       = "providerName"
	KeyApplicationID      = "applicationId"
	KeyLoginURL           = "loginUrl"
	KeyCertificate        = "certificate"
	KeyUserLoginAttribute = "userLoginAttribute"
	KeyUserNameAttribute  = "userNameAttribute"
	KeyUserEmailAttribute = "userEmailAttribute"
	KeyGroupNameAttribute = "groupNameAttribute"
	KeySignRequests       = "signRequestsEnabled"
	KeySPCertificate      = "spCertificate"
	KeySPPrivateKey       = "spPrivateKey"
	KeyAllowIDPInitiated  = "allowIdpInitiated"
)

// Settings holds the SAML identity-provider integration configuration.
// Fields marked secret never appear in JSON output.
type Settings struct {
	Enabled bool `json:"enabled"`

	// ProviderID is the IdP entity ID (issuer).
	ProviderID string `json:"providerId"`
	// ProviderName is the display name shown on the login page.
	ProviderName string `json:"providerName"`
	// ApplicationID is the SP entity ID registered with the IdP.
	ApplicationID string `json:"applicationId"`
	// LoginURL is the IdP single sign-on endpoint.
	LoginURL string `json:"loginUrl"`

	// Certificate is the PEM-encoded IdP verification certificate.
	Certificate string `json:"-"`

	UserLoginAttribute string `json:"userLoginAttribute"`
	UserNameAttribute  string `json:"userNameAttribute"`
	UserEmailAttribute string `json:"userEmailAttribute,omitempty"`
	GroupNameAttribute string `json:"groupNameAttribute,omitempty"`

	SignRequests  bool   `json:"signRequestsEnabled"`
	SPCertificate string `json:"-"`
	SPPrivateKey  string `json:"-"`

	// AllowIDPInitiated suppresses in-response-to mismatch errors so that
	// IdP-initiated logins (no prior AuthnRequest to correlate) succeed.
	AllowIDPInitiated bool `json:"allowIdpInitiated"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string

	// BaseURL is the externally visible origin callbacks resolve against.
	BaseURL string
	// ContextPath prefixes every route when deployed under a subpath.
	ContextPath string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StorageConfig selects the replay-protection backend.
type StorageConfig struct {
	// Type is one of "memory", "postgres", "sqlite", "redis".
	Type string

	PostgresURL string
	SQLitePath  string
	RedisURL    string
}

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	SettingsFile string

	mu       sync.RWMutex
	settings Settings
}

// Load reads configuration from environment variables and, when
// SAMLGATE_SETTINGS_FILE is set, merges settings from that JSON file.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SAMLGATE_HOST", "0.0.0.0"),
			Port:            getEnv("SAMLGATE_PORT", "8080"),
			BaseURL:         getEnv("SAMLGATE_BASE_URL", "http://localhost:8080"),
			ContextPath:     getEnv("SAMLGATE_CONTEXT_PATH", ""),
			ReadTimeout:     getEnvDuration("SAMLGATE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SAMLGATE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SAMLGATE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SAMLGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Type:        getEnv("SAMLGATE_STORAGE_TYPE", "memory"),
			PostgresURL: getEnv("SAMLGATE_POSTGRES_URL", ""),
			SQLitePath:  getEnv("SAMLGATE_SQLITE_PATH", ""),
			RedisURL:    getEnv("SAMLGATE_REDIS_URL", ""),
		},
		SettingsFile: getEnv("SAMLGATE_SETTINGS_FILE", ""),
		settings:     settingsFromEnv(),
	}

	if cfg.SettingsFile != "" {
		if err := cfg.ReloadSettings(); err != nil {
			return nil, fmt.Errorf("failed to load settings file: %w", err)
		}
	}

	return cfg, nil
}

func settingsFromEnv() Settings {
	return Settings{
		Enabled:            getEnvBool("SAMLGATE_ENABLED", false),
		ProviderID:         getEnv("SAMLGATE_PROVIDER_ID", ""),
		ProviderName:       getEnv("SAMLGATE_PROVIDER_NAME", "SAML"),
		ApplicationID:      getEnv("SAMLGATE_APPLICATION_ID", ""),
		LoginURL:           getEnv("SAMLGATE_LOGIN_URL", ""),
		Certificate:        getEnv("SAMLGATE_CERTIFICATE", ""),
		UserLoginAttribute: getEnv("SAMLGATE_USER_LOGIN_ATTRIBUTE", ""),
		UserNameAttribute:  getEnv("SAMLGATE_USER_NAME_ATTRIBUTE", ""),
		UserEmailAttribute: getEnv("SAMLGATE_USER_EMAIL_ATTRIBUTE", ""),
		GroupNameAttribute: getEnv("SAMLGATE_GROUP_NAME_ATTRIBUTE", ""),
		SignRequests:       getEnvBool("SAMLGATE_SIGN_REQUESTS", false),
		SPCertificate:      getEnv("SAMLGATE_SP_CERTIFICATE", ""),
		SPPrivateKey:       getEnv("SAMLGATE_SP_PRIVATE_KEY", ""),
		AllowIDPInitiated:  getEnvBool("SAMLGATE_ALLOW_IDP_INITIATED", true),
	}
}

// Settings returns a snapshot of the current SAML settings.
func (c *Config) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// SetSettings replaces the current SAML settings.
func (c *Config) SetSettings(s Settings) {
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
}

// ReloadSettings re-reads the JSON settings file over the env-derived
// defaults. Settings present in the file win.
func (c *Config) ReloadSettings() error {
	if c.SettingsFile == "" {
		return nil
	}

	data, err := os.ReadFile(c.SettingsFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.SettingsFile, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.SettingsFile, err)
	}

	s := settingsFromEnv()
	stringFields := map[string]*string{
		KeyProviderID:         &s.ProviderID,
		KeyProviderName:       &s.ProviderName,
		KeyApplicationID:      &s.ApplicationID,
		KeyLoginURL:           &s.LoginURL,
		KeyCertificate:        &s.Certificate,
		KeyUserLoginAttribute: &s.UserLoginAttribute,
		KeyUserNameAttribute:  &s.UserNameAttribute,
		KeyUserEmailAttribute: &s.UserEmailAttribute,
		KeyGroupNameAttribute: &s.GroupNameAttribute,
		KeySPCertificate:      &s.SPCertificate,
		KeySPPrivateKey:       &s.SPPrivateKey,
	}
	for key, dst := range stringFields {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return fmt.Errorf("setting %s: %w", key, err)
			}
		}
	}
	boolFields := map[string]*bool{
		KeyEnabled:           &s.Enabled,
		KeySignRequests:      &s.SignRequests,
		KeyAllowIDPInitiated: &s.AllowIDPInitiated,
	}
	for key, dst := range boolFields {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return fmt.Errorf("setting %s: %w", key, err)
			}
		}
	}

	c.SetSettings(s)
	return nil
}

// ConfigError reports a missing or invalid required setting. It is fatal:
// login initiation is blocked until the administrator fixes the setting.
type ConfigError struct {
	Setting string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid SAML configuration: %s %s", e.Setting, e.Reason)
}

// Validate checks that every setting required for an enabled integration is
// present. A disabled integration validates trivially.
func (s Settings) Validate() error {
	if !s.Enabled {
		return nil
	}

	required := []struct {
		key   string
		value string
	}{
		{KeyProviderID, s.ProviderID},
		{KeyApplicationID, s.ApplicationID},
		{KeyLoginURL, s.LoginURL},
		{KeyCertificate, s.Certificate},
		{KeyUserLoginAttribute, s.UserLoginAttribute},
		{KeyUserNameAttribute, s.UserNameAttribute},
	}
	for _, r := range required {
		if r.value == "" {
			return &ConfigError{Setting: r.key, Reason: "is missing"}
		}
	}

	if u, err := url.Parse(s.LoginURL); err != nil || !u.IsAbs() {
		return &ConfigError{Setting: KeyLoginURL, Reason: "is not a valid URL"}
	}

	if s.SignRequests {
		if s.SPCertificate == "" {
			return &ConfigError{Setting: KeySPCertificate, Reason: "is missing"}
		}
		if s.SPPrivateKey == "" {
			return &ConfigError{Setting: KeySPPrivateKey, Reason: "is missing"}
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
