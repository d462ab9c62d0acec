// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.quickdesk/config.yaml or ./config.yaml)
//  3. Default values
//
// Main categories:
//   - Server: listen address, CORS, rate limiting, API auth token
//   - Postgres: backing store for workspaces, messaging, Teams connections
//   - Jira: REST API credentials and project
//   - Gateway: AI generation gateway endpoint and key
//   - Graph: Microsoft Teams OAuth application
//
// Sensitive fields (passwords, tokens, secrets) are masked in MarshalJSON
// and String so a Config can be logged safely.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidListenAddr indicates the server listen address is malformed.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrMissingAPIToken indicates the API bearer token is not set.
	ErrMissingAPIToken = errors.New("missing API token")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrMissingJiraBaseURL indicates the Jira base URL is not set.
	ErrMissingJiraBaseURL = errors.New("missing Jira base URL")

	// ErrMissingJiraCredentials indicates the Jira email or API token is not set.
	ErrMissingJiraCredentials = errors.New("missing Jira credentials")

	// ErrMissingJiraProject indicates the Jira project key is not set.
	ErrMissingJiraProject = errors.New("missing Jira project key")

	// ErrMissingGatewayURL indicates the AI gateway base URL is not set.
	ErrMissingGatewayURL = errors.New("missing gateway base URL")

	// ErrInvalidRateBurst indicates the rate limiter burst is negative.
	ErrInvalidRateBurst = errors.New("invalid rate burst")
)

// JiraConfig holds Jira REST API settings.
type JiraConfig struct {
	BaseURL    string `mapstructure:"base_url" json:"base_url"`
	Email      string `mapstructure:"email" json:"email"`
	APIToken   string `mapstructure:"api_token" json:"api_token"` // SENSITIVE: masked in MarshalJSON
	ProjectKey string `mapstructure:"project_key" json:"project_key"`
	BoardID    int    `mapstructure:"board_id" json:"board_id"` // Agile board for sprint metadata
}

// GatewayConfig holds AI generation gateway settings.
type GatewayConfig struct {
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	APIKey  string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
}

// GraphConfig holds the Microsoft Graph OAuth application settings used
// for the Teams integration.
type GraphConfig struct {
	TenantID     string `mapstructure:"tenant_id" json:"tenant_id"`
	ClientID     string `mapstructure:"client_id" json:"client_id"`
	ClientSecret string `mapstructure:"client_secret" json:"client_secret"` // SENSITIVE: masked in MarshalJSON
	RedirectURI  string `mapstructure:"redirect_uri" json:"redirect_uri"`
}

// Config stores the application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// Server configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	APIToken    string   `mapstructure:"api_token" json:"api_token"` // SENSITIVE: masked in MarshalJSON
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Local data directory (generation history database)
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	// External collaborators
	Jira    JiraConfig    `mapstructure:"jira" json:"jira"`
	Gateway GatewayConfig `mapstructure:"gateway" json:"gateway"`
	Graph   GraphConfig   `mapstructure:"graph" json:"graph"`
}

// Load loads configuration with env > file > defaults priority.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".quickdesk")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults plus env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("listen_addr", "localhost:8080")
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 60)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "quickdesk")
	v.SetDefault("postgres_password", "quickdesk_dev_password")
	v.SetDefault("postgres_db_name", "quickdesk")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("data_dir", configDir)

	v.SetDefault("jira.base_url", "")
	v.SetDefault("jira.project_key", "")
	v.SetDefault("jira.board_id", 0)

	v.SetDefault("gateway.base_url", "")

	v.SetDefault("graph.tenant_id", "common")
	v.SetDefault("graph.redirect_uri", "http://localhost:5173/teams/callback")
}

// bindEnvVariables binds environment variables explicitly. Secrets are
// env-only in production deployments; the config file carries the rest.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("api_token", "QUICKDESK_API_TOKEN")
	mustBind("listen_addr", "QUICKDESK_LISTEN_ADDR")
	mustBind("cors_origins", "QUICKDESK_CORS_ORIGINS")
	mustBind("trust_proxy", "QUICKDESK_TRUST_PROXY")
	mustBind("postgres_password", "QUICKDESK_POSTGRES_PASSWORD")
	mustBind("jira.base_url", "QUICKDESK_JIRA_BASE_URL")
	mustBind("jira.email", "QUICKDESK_JIRA_EMAIL")
	mustBind("jira.api_token", "QUICKDESK_JIRA_API_TOKEN")
	mustBind("jira.project_key", "QUICKDESK_JIRA_PROJECT_KEY")
	mustBind("gateway.base_url", "QUICKDESK_GATEWAY_BASE_URL")
	mustBind("gateway.api_key", "QUICKDESK_GATEWAY_API_KEY")
	mustBind("graph.tenant_id", "QUICKDESK_GRAPH_TENANT_ID")
	mustBind("graph.client_id", "QUICKDESK_GRAPH_CLIENT_ID")
	mustBind("graph.client_secret", "QUICKDESK_GRAPH_CLIENT_SECRET")
}

// parseDatabaseURL overrides the Postgres fields from DATABASE_URL if set.
// The URL form takes priority over individual fields.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &c.PostgresPort); err != nil {
			return fmt.Errorf("invalid port %q: %w", p, err)
		}
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := u.Path; len(db) > 1 {
		c.PostgresDBName = db[1:]
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// DatabaseURL returns the postgres:// connection URL for pgx and migrate.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 characters or
// fewer are fully masked so the mask cannot be substring-matched against
// the original; longer secrets keep the first and last two characters for
// debugging utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.APIToken = maskSecret(a.APIToken)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.Jira.APIToken = maskSecret(a.Jira.APIToken)
	a.Gateway.APIKey = maskSecret(a.Gateway.APIKey)
	a.Graph.ClientSecret = maskSecret(a.Graph.ClientSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
