package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the gatekeeper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Gate     GateConfig     `mapstructure:"gate"`
	Firewall FirewallConfig `mapstructure:"firewall"`
}

// ServerConfig contains HTTP server and operator auth settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
	// AdminToken is compared against the Authorization bearer token on
	// /admin routes. AdminTokenBcrypt, when set, takes precedence and holds
	// a bcrypt hash of the token instead of the plaintext.
	AdminToken       string `mapstructure:"admin_token"`
	AdminTokenBcrypt string `mapstructure:"admin_token_bcrypt"`
	// ClientIDHeader names a trusted header carrying the client identifier;
	// when absent on a request the remote address is used.
	ClientIDHeader string `mapstructure:"client_id_header"`
}

// LLMConfig points at an OpenAI-compatible chat-completions endpoint.
type LLMConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	ConversationModel string        `mapstructure:"conversation_model"`
	ReasoningModel    string        `mapstructure:"reasoning_model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains the Postgres and optional Redis settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig enables the per-client chat rate limiter when Host is set.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GateConfig tunes the conversation gating behavior.
type GateConfig struct {
	// EndMarker is the token the persona embeds to close the conversation.
	EndMarker string `mapstructure:"end_marker"`
	// ChatRequestsPerMinute caps /chat per client when redis is configured.
	ChatRequestsPerMinute int `mapstructure:"chat_requests_per_minute"`
}

// FirewallConfig selects the enforcer implementation.
type FirewallConfig struct {
	// Mode is "iptables" or "log".
	Mode   string `mapstructure:"mode"`
	Binary string `mapstructure:"binary"`
	Chain  string `mapstructure:"chain"`
}

// DSN assembles the Postgres connection string.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", errors.New("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// Validate checks the settings the server cannot run without.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return errors.New("llm.api_key not configured")
	}
	if c.Server.AdminToken == "" && c.Server.AdminTokenBcrypt == "" {
		return errors.New("server.admin_token (or admin_token_bcrypt) not configured")
	}
	switch c.Firewall.Mode {
	case "iptables", "log":
	default:
		return fmt.Errorf("unknown firewall.mode %q", c.Firewall.Mode)
	}
	return nil
}

// LoadConfig loads config from file with GATEWARDEN_* env overrides.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":3000")
	viper.SetDefault("server.client_id_header", "TG-ID")
	viper.SetDefault("llm.base_url", "https://openrouter.ai/api/v1/chat/completions")
	viper.SetDefault("llm.conversation_model", "qwen/qwen3-30b-a3b:free")
	viper.SetDefault("llm.reasoning_model", "qwen/qwen3-235b-a22b:free")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.timeout", "120s")
	viper.SetDefault("gate.end_marker", "[end]")
	viper.SetDefault("gate.chat_requests_per_minute", 20)
	viper.SetDefault("firewall.mode", "log")
	viper.SetDefault("firewall.chain", "INPUT")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("GATEWARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Env-only deployments are fine; a broken file is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
