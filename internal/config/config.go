package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
	// EncryptionKey enables at-rest encryption of message bodies when set
	// (base64, 32 bytes).
	EncryptionKey string `yaml:"encryption_key"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AIConfig struct {
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"` // optional OpenAI-compatible endpoint
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	DefaultModel    string `yaml:"default_model"`
	NarrationVoice  string `yaml:"narration_voice"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent AI calls
	MaxPromptTokens int    `yaml:"max_prompt_tokens"`
}

type EngineConfig struct {
	FreeTierLimit     int           `yaml:"free_tier_limit"`
	PrivilegedRoles   []string      `yaml:"privileged_roles"`
	PrefetchQuiet     time.Duration `yaml:"prefetch_quiet"`      // audio prefetch quiescence window
	TitleRefreshDelay time.Duration `yaml:"title_refresh_delay"` // delay before title refresh on new sessions
	PlaybackRate      float64       `yaml:"playback_rate"`       // fixed narration speed override
	HistoryWindow     int           `yaml:"history_window"`      // max prior messages per generation
}

type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	CookieDomain string        `yaml:"cookie_domain"`
	SecureCookie bool          `yaml:"secure_cookie"`
	TTL          time.Duration `yaml:"ttl"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Engine   EngineConfig   `yaml:"engine"`
	Auth     AuthConfig     `yaml:"auth"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file, applies defaults and env overrides for
// secrets, and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev

	// Secrets may come from the environment instead of the file.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.AI.OpenAIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.AI.GeminiKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		cfg.Database.EncryptionKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFlags wires the standard -config/-dev flags and loads the result.
func ParseFlags() (*Config, error) {
	var path string
	var dev bool
	flag.StringVar(&path, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()
	return LoadConfig(path, dev)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 30 * time.Minute
	}
	if c.AI.DefaultModel == "" {
		c.AI.DefaultModel = "gpt-4o-mini"
	}
	if c.AI.NarrationVoice == "" {
		c.AI.NarrationVoice = "alloy"
	}
	if c.AI.MaxPromptTokens == 0 {
		c.AI.MaxPromptTokens = 6000
	}
	if c.Engine.FreeTierLimit == 0 {
		c.Engine.FreeTierLimit = 5
	}
	if len(c.Engine.PrivilegedRoles) == 0 {
		c.Engine.PrivilegedRoles = []string{"admin", "physician-verified"}
	}
	if c.Engine.PrefetchQuiet == 0 {
		c.Engine.PrefetchQuiet = 2 * time.Second
	}
	if c.Engine.TitleRefreshDelay == 0 {
		c.Engine.TitleRefreshDelay = 4 * time.Second
	}
	if c.Engine.PlaybackRate == 0 {
		c.Engine.PlaybackRate = 1.15
	}
	if c.Engine.HistoryWindow == 0 {
		c.Engine.HistoryWindow = 30
	}
	if c.Auth.TTL == 0 {
		c.Auth.TTL = 30 * 24 * time.Hour
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.AI.OpenAIKey == "" && c.AI.GeminiKey == "" && !c.Runtime.Dev {
		return errors.New("no AI provider configured: set ai.openai_key or ai.gemini_key")
	}
	if c.Auth.JWTSecret == "" && !c.Runtime.Dev {
		return errors.New("auth.jwt_secret is required outside dev mode")
	}
	return nil
}
