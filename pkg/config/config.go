package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/security"
)

// MaxConfigSize is the largest configuration file LoadConfig accepts.
const MaxConfigSize = 1024 * 1024

// Space kinds.
const (
	SpaceLocal = "local"
	SpaceRedis = "redis"
)

// Channel kinds.
const (
	KindEcho     = "echo"
	KindChatty   = "chatty"
	KindHost     = "host"
	KindOperator = "operator"
)

// Grant modes.
const (
	GrantDeny     = "deny"
	GrantAllow    = "allow"
	GrantTerminal = "terminal"
	GrantPolicy   = "policy"
)

// Config represents the hosting application configuration
type Config struct {
	Space         SpaceConfig         `yaml:"space"`
	Grants        GrantsConfig        `yaml:"grants"`
	Channels      []ChannelConfig     `yaml:"channels"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// SpaceConfig selects and tunes the transport.
type SpaceConfig struct {
	Kind  string      `yaml:"kind"` // local, redis
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds broker settings for the redis space.
type RedisConfig struct {
	Addr              string        `yaml:"addr"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	DB                int           `yaml:"db"`
	Prefix            string        `yaml:"prefix"`
	MaxQueueDepth     int64         `yaml:"max_queue_depth"`
	BlockTimeout      time.Duration `yaml:"block_timeout"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	PresenceTTL       time.Duration `yaml:"presence_ttl"`
	PresenceRefresh   time.Duration `yaml:"presence_refresh"`
}

// GrantsConfig selects how conditional actions are approved.
type GrantsConfig struct {
	Mode       string `yaml:"mode"` // deny, allow, terminal, policy
	PolicyFile string `yaml:"policy_file"`
	// AuditFile receives one JSON line per grant decision; "-" is stderr.
	AuditFile string `yaml:"audit_file"`
}

// ChannelConfig describes one channel hosted by the application.
type ChannelConfig struct {
	ID              string         `yaml:"id"`
	Kind            string         `yaml:"kind"`
	MailboxCapacity int            `yaml:"mailbox_capacity"`
	Settings        map[string]any `yaml:"settings"`
}

// OpenAIConfig configures model-backed channels.
type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// ObservabilityConfig holds metrics and health endpoint settings.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// Setting returns a string setting or def when it is absent.
func (c ChannelConfig) Setting(name, def string) string {
	if v, ok := c.Settings[name]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return def
}

// Default returns a configuration with a single echo channel on a local space.
func Default() *Config {
	cfg := &Config{
		Channels: []ChannelConfig{{ID: "Echo", Kind: KindEcho}},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if info.Size() > MaxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document, applies defaults and then
// environment overrides.
func Parse(data []byte) (*Config, error) {
	limits := security.DefaultYAMLLimits()
	limits.MaxFileSize = MaxConfigSize
	parser := security.NewSafeYAMLParser(limits).Strict()

	var cfg Config
	if err := parser.UnmarshalYAML(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Space.Kind == "" {
		c.Space.Kind = SpaceLocal
	}
	if c.Space.Redis.Addr == "" {
		c.Space.Redis.Addr = "localhost:6379"
	}
	if c.Space.Redis.Prefix == "" {
		c.Space.Redis.Prefix = "agency:"
	}
	if c.Grants.Mode == "" {
		c.Grants.Mode = GrantDeny
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.MaxTokens == 0 {
		c.OpenAI.MaxTokens = 500
	}
	if c.OpenAI.Temperature == 0 {
		c.OpenAI.Temperature = 0.7
	}
}

// applyEnv lets deployment environments override the file.
func (c *Config) applyEnv() error {
	if v := os.Getenv("AGENCY_SPACE"); v != "" {
		c.Space.Kind = v
	}
	if v := os.Getenv("AGENCY_REDIS_ADDR"); v != "" {
		c.Space.Redis.Addr = v
	}
	if v := os.Getenv("AGENCY_REDIS_USERNAME"); v != "" {
		c.Space.Redis.Username = v
	}
	if v := os.Getenv("AGENCY_REDIS_PASSWORD"); v != "" {
		c.Space.Redis.Password = v
	}
	if v := os.Getenv("AGENCY_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENCY_REDIS_DB: %w", err)
		}
		c.Space.Redis.DB = db
	}
	if v := os.Getenv("AGENCY_REDIS_PREFIX"); v != "" {
		c.Space.Redis.Prefix = v
	}

	// Load API keys from environment if not in config
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Space.Kind {
	case SpaceLocal:
	case SpaceRedis:
		if c.Space.Redis.Addr == "" {
			return fmt.Errorf("space.redis.addr is required for the redis space")
		}
	default:
		return fmt.Errorf("unknown space kind %q", c.Space.Kind)
	}

	switch c.Grants.Mode {
	case GrantDeny, GrantAllow, GrantTerminal:
	case GrantPolicy:
		if c.Grants.PolicyFile == "" {
			return fmt.Errorf("grants.policy_file is required in policy mode")
		}
	default:
		return fmt.Errorf("unknown grant mode %q", c.Grants.Mode)
	}

	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one channel must be configured")
	}

	seen := make(map[string]bool, len(c.Channels))
	operators := 0
	for i, ch := range c.Channels {
		if strings.TrimSpace(ch.ID) == "" {
			return fmt.Errorf("channels[%d]: id is required", i)
		}
		if strings.Contains(ch.ID, agent.Broadcast) {
			return fmt.Errorf("channels[%d]: id %q must not contain %q", i, ch.ID, agent.Broadcast)
		}
		if seen[ch.ID] {
			return fmt.Errorf("channels[%d]: duplicate id %q", i, ch.ID)
		}
		seen[ch.ID] = true
		if ch.MailboxCapacity < 0 {
			return fmt.Errorf("channels[%d]: mailbox_capacity must not be negative", i)
		}

		switch ch.Kind {
		case KindEcho:
		case KindHost:
			if ch.Setting("root", "") == "" {
				return fmt.Errorf("channel %s: settings.root is required for host channels", ch.ID)
			}
		case KindChatty:
			if c.OpenAI.APIKey == "" && c.OpenAI.BaseURL == "" {
				return fmt.Errorf("channel %s: an OpenAI api key or base url must be configured", ch.ID)
			}
		case KindOperator:
			operators++
		default:
			return fmt.Errorf("channel %s: unknown kind %q", ch.ID, ch.Kind)
		}
	}

	if operators > 1 {
		return fmt.Errorf("at most one operator channel can share the terminal")
	}
	if operators > 0 && c.Grants.Mode == GrantTerminal {
		return fmt.Errorf("terminal grants cannot share the terminal with an operator channel")
	}
	return nil
}
