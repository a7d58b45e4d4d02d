package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the support service
type Config struct {
	General      GeneralConfig      `mapstructure:"general"`
	Server       ServerConfig       `mapstructure:"server"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Policy       PolicyConfig       `mapstructure:"policy"`
	CRM          CRMConfig          `mapstructure:"crm"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Handoff      HandoffConfig      `mapstructure:"handoff"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address           string        `mapstructure:"address"`
	JWTSecret         string        `mapstructure:"jwt_secret"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	TrustBodyIdentity bool          `mapstructure:"trust_body_identity"`
	RateLimitRPS      float64       `mapstructure:"rate_limit_rps"`
	MigrationsDir     string        `mapstructure:"migrations_dir"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// ConversationConfig tunes the orchestration engine.
type ConversationConfig struct {
	MaxStepCalls        int           `mapstructure:"max_step_calls"`
	EscalationThreshold int           `mapstructure:"escalation_threshold"`
	HistoryMaxTurns     int           `mapstructure:"history_max_turns"`
	CollaboratorTimeout time.Duration `mapstructure:"collaborator_timeout"`
	EnumerateAllOrders  bool          `mapstructure:"enumerate_all_orders"`
	LaneTTL             time.Duration `mapstructure:"lane_ttl"`
}

// Normalize applies defaults for unset values.
func (c ConversationConfig) Normalize() ConversationConfig {
	if c.MaxStepCalls <= 0 {
		c.MaxStepCalls = 2
	}
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = 5
	}
	if c.HistoryMaxTurns <= 0 {
		c.HistoryMaxTurns = 20
	}
	if c.CollaboratorTimeout <= 0 {
		c.CollaboratorTimeout = 10 * time.Second
	}
	if c.LaneTTL <= 0 {
		c.LaneTTL = 2 * time.Minute
	}
	return c
}

// Validate rejects settings the engine cannot honour.
func (c ConversationConfig) Validate() error {
	if c.MaxStepCalls < 1 {
		return fmt.Errorf("conversation.max_step_calls must be >= 1")
	}
	if c.HistoryMaxTurns < 2 {
		return fmt.Errorf("conversation.history_max_turns must be >= 2")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	State    StateStoreConfig `mapstructure:"state"`
	Orders   string           `mapstructure:"orders"`
	Redis    RedisConfig      `mapstructure:"redis"`
	Postgres PostgresConfig   `mapstructure:"postgres"`
}

// StateStoreConfig selects the conversation state backend.
type StateStoreConfig struct {
	Driver string        `mapstructure:"driver"` // memory, redis, postgres
	TTL    time.Duration `mapstructure:"ttl"`
}

func (s StorageConfig) Validate() error {
	switch s.State.Driver {
	case "memory":
	case "redis":
		if err := s.Redis.Validate(); err != nil {
			return err
		}
	case "postgres":
		if err := s.Postgres.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage.state.driver %q not supported (memory, redis, postgres)", s.State.Driver)
	}
	switch s.Orders {
	case "memory":
	case "postgres":
		if err := s.Postgres.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage.orders %q not supported (memory, postgres)", s.Orders)
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a postgres endpoint is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN constructs a connection string from the configuration.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres configuration incomplete: host/dbname required")
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

// CRMConfig configures the deal-stage client.
type CRMConfig struct {
	BaseURL    string            `mapstructure:"base_url"`
	Token      string            `mapstructure:"token"`
	PipelineID string            `mapstructure:"pipeline_id"`
	Stages     map[string]string `mapstructure:"stages"`
	Timeout    time.Duration     `mapstructure:"timeout"`
}

// Enabled reports whether CRM updates should be sent.
func (c CRMConfig) Enabled() bool {
	return strings.TrimSpace(c.Token) != ""
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"` // host:port; empty keeps spans in-process
}

// HandoffConfig controls publication of escalations to the human-agent queue.
type HandoffConfig struct {
	Stream string `mapstructure:"stream"`
	MaxLen int64  `mapstructure:"max_len"`
	Group  string `mapstructure:"group"` // consumer group of the human-agent desk
}

// Load reads configuration from path (or the default search paths when
// empty). A missing config file is not an error: defaults and environment
// variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)                                // bin/
		v.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("ORDERDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (ORDERDESK_*)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Conversation = cfg.Conversation.Normalize()
	cfg.Policy = cfg.Policy.Normalize()

	if err := cfg.Conversation.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads config from file and panics on failure
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.token_ttl", 24*time.Hour)
	v.SetDefault("server.trust_body_identity", true)
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.migrations_dir", "file://migrations")
	v.SetDefault("server.auto_migrate", false)
	v.SetDefault("conversation.max_step_calls", 2)
	v.SetDefault("conversation.escalation_threshold", 5)
	v.SetDefault("conversation.history_max_turns", 20)
	v.SetDefault("conversation.collaborator_timeout", 10*time.Second)
	v.SetDefault("conversation.enumerate_all_orders", false)
	v.SetDefault("conversation.lane_ttl", 2*time.Minute)
	v.SetDefault("storage.state.driver", "memory")
	v.SetDefault("storage.state.ttl", time.Duration(0))
	v.SetDefault("storage.orders", "memory")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("policy.return_window_days", 45)
	v.SetDefault("policy.refund_window_days", 30)
	v.SetDefault("policy.exchange_window_days", 45)
	v.SetDefault("policy.cancellable_statuses", []string{"processing", "pending"})
	v.SetDefault("crm.base_url", "https://api.hubapi.com")
	v.SetDefault("crm.pipeline_id", "default")
	v.SetDefault("crm.timeout", 5*time.Second)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "orderdesk")
	v.SetDefault("handoff.stream", "orderdesk.handoff")
	v.SetDefault("handoff.max_len", 10000)
	v.SetDefault("handoff.group", "agents")
}
