package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "BOOKAPI"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultBaseURL           = "http://localhost:8080"
	defaultDatabasePath      = "books.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "book_session"
	defaultSessionTTLMinutes = 1440
	defaultSuccessRedirect   = "/"
	defaultFailureRedirect   = "/auth/failure"

	callbackPath = "/auth/google/callback"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	BaseURL            string
	DatabasePath       string
	LogLevel           string
	GoogleClientID     string
	GoogleClientSecret string
	StateSecret        string
	TestToken          string
	SessionCookieName  string
	SessionTTL         time.Duration
	RedisAddr          string
	SecureCookies      bool
	SuccessRedirect    string
	FailureRedirect    string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.base_url", defaultBaseURL)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("session.secure_cookies", false)
	configViper.SetDefault("auth.success_redirect", defaultSuccessRedirect)
	configViper.SetDefault("auth.failure_redirect", defaultFailureRedirect)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		BaseURL:            configViper.GetString("http.base_url"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		GoogleClientID:     configViper.GetString("google.client_id"),
		GoogleClientSecret: configViper.GetString("google.client_secret"),
		StateSecret:        configViper.GetString("auth.state_secret"),
		TestToken:          configViper.GetString("auth.test_token"),
		SessionCookieName:  configViper.GetString("session.cookie_name"),
		SessionTTL:         time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		RedisAddr:          configViper.GetString("session.redis_addr"),
		SecureCookies:      configViper.GetBool("session.secure_cookies"),
		SuccessRedirect:    configViper.GetString("auth.success_redirect"),
		FailureRedirect:    configViper.GetString("auth.failure_redirect"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// GoogleEnabled reports whether provider login credentials are present.
func (c AppConfig) GoogleEnabled() bool {
	return strings.TrimSpace(c.GoogleClientID) != "" && strings.TrimSpace(c.GoogleClientSecret) != ""
}

// CallbackURL derives the provider callback from the deployment's public base
// URL. It must match what was registered with the provider exactly.
func (c AppConfig) CallbackURL() string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/") + callbackPath
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("http.base_url is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive")
	}
	if c.GoogleEnabled() && strings.TrimSpace(c.StateSecret) == "" {
		return fmt.Errorf("auth.state_secret is required when google oauth is configured")
	}
	return nil
}
