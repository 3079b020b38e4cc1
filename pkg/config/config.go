// Package config provides configuration loading for the SpectacleBot linking service.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Session backend names.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// Config is the main configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	OAuth         OAuthConfig         `yaml:"oauth"`
	Session       SessionConfig       `yaml:"session"`
	Database      DatabaseConfig      `yaml:"database"`
	Discord       DiscordConfig       `yaml:"discord"`
	Verification  VerificationConfig  `yaml:"verification"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the callback/API HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// BaseURL is the externally reachable base URL of this service. The
	// OAuth redirect URI must resolve to <BaseURL>/callback.
	BaseURL string `yaml:"base_url"`

	// SuccessURL is where the browser is sent after a successful link.
	SuccessURL string `yaml:"success_url"`

	// APIEnabled controls whether the local link API is mounted.
	APIEnabled bool `yaml:"api_enabled"`
}

// OAuthConfig holds the Roblox OAuth2 application configuration.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	Scopes       string `yaml:"scopes"`
}

// SessionConfig holds verification session store configuration.
type SessionConfig struct {
	// Backend selects the session store implementation: "redis" or "memory".
	Backend string `yaml:"backend"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection configuration for the session store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds linkage persistence configuration.
type DatabaseConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory store.
	Path string `yaml:"path"`
}

// DiscordConfig holds Discord REST API configuration.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`

	// APIBase overrides the Discord API base URL, used in tests.
	APIBase string `yaml:"api_base,omitempty"`
}

// VerificationConfig holds per-guild role mapping configuration.
// Guild ID 0 supplies defaults for fields left unset on other guilds.
type VerificationConfig struct {
	Guilds map[int64]GuildConfig `yaml:"guilds"`
}

// GuildConfig holds the role mapping for a single guild.
type GuildConfig struct {
	// VerifiedRoleID is granted to every linked member. 0 disables it.
	VerifiedRoleID int64 `yaml:"verified_role_id"`

	// GroupMemberRoleID is granted when the linked Roblox account is a
	// member of RobloxGroupID. 0 disables it.
	GroupMemberRoleID int64 `yaml:"group_member_role_id"`

	// RobloxGroupID is the Roblox group checked for membership.
	RobloxGroupID int64 `yaml:"roblox_group_id"`
}

// ObservabilityConfig holds metrics configuration.
type ObservabilityConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
	MetricsPort    int  `yaml:"metrics_port"`
}

// GuildIDs returns the configured guild IDs, excluding the defaults entry.
func (v *VerificationConfig) GuildIDs() []int64 {
	ids := make([]int64, 0, len(v.Guilds))

	for id := range v.Guilds {
		if id == 0 {
			continue
		}

		ids = append(ids, id)
	}

	return ids
}

// ForGuild returns the guild's role mapping with unset fields filled from
// the guild 0 defaults entry.
func (v *VerificationConfig) ForGuild(guildID int64) GuildConfig {
	cfg := v.Guilds[guildID]
	defaults := v.Guilds[0]

	if cfg.VerifiedRoleID == 0 {
		cfg.VerifiedRoleID = defaults.VerifiedRoleID
	}

	if cfg.GroupMemberRoleID == 0 {
		cfg.GroupMemberRoleID = defaults.GroupMemberRoleID
	}

	if cfg.RobloxGroupID == 0 {
		cfg.RobloxGroupID = defaults.RobloxGroupID
	}

	return cfg
}

// envVarPattern matches ${VAR_NAME} patterns for environment variable substitution.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load loads configuration from a YAML file with environment variable substitution.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		if path == "" {
			path = "config.yaml"
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	// Substitute environment variables
	substituted, err := substituteEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("substituting env vars: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
// Lines that are comments (starting with #) are skipped to allow commented optional sections
// in config files without requiring their environment variables to be set.
func substituteEnvVars(content string) (string, error) {
	var missingVars []string
	lines := strings.Split(content, "\n")

	for i, line := range lines {
		// Skip lines that are YAML comments.
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		lines[i] = envVarPattern.ReplaceAllStringFunc(line, func(match string) string {
			varName := envVarPattern.FindStringSubmatch(match)[1]
			value := os.Getenv(varName)
			if value == "" {
				missingVars = append(missingVars, varName)
				return match
			}

			return value
		})
	}

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing environment variables: %v", missingVars)
	}

	return strings.Join(lines, "\n"), nil
}

// applyDefaults sets default values for configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	if cfg.Server.SuccessURL == "" {
		cfg.Server.SuccessURL = "https://spst.dev/verify"
	}

	if cfg.OAuth.RedirectURI == "" {
		cfg.OAuth.RedirectURI = strings.TrimSuffix(cfg.Server.BaseURL, "/") + "/callback"
	}

	if cfg.OAuth.Scopes == "" {
		cfg.OAuth.Scopes = "openid profile group:read"
	}

	if cfg.Session.Backend == "" {
		cfg.Session.Backend = SessionBackendMemory
	}

	if cfg.Verification.Guilds == nil {
		cfg.Verification.Guilds = map[int64]GuildConfig{0: {}}
	}

	if cfg.Discord.APIBase == "" {
		cfg.Discord.APIBase = "https://discord.com/api/v10"
	}

	if cfg.Observability.MetricsPort == 0 {
		cfg.Observability.MetricsPort = 5090
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.OAuth.ClientID == "" {
		return errors.New("oauth.client_id is required")
	}

	if c.OAuth.ClientSecret == "" {
		return errors.New("oauth.client_secret is required")
	}

	if c.Discord.BotToken == "" {
		return errors.New("discord.bot_token is required")
	}

	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if c.Session.Redis.Addr == "" {
			return errors.New("session.redis.addr is required when session.backend is redis")
		}
	default:
		return fmt.Errorf("unknown session backend: %s", c.Session.Backend)
	}

	return nil
}
