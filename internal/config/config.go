// Package config loads the assistant configuration: defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"

	KeywordsFromFile     = "file"
	KeywordsFromDynamoDB = "dynamodb"

	CatalogModeFiltered   = "filtered"
	CatalogModeDictionary = "dictionary"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Keywords KeywordsConfig `yaml:"keywords"`
	Session  SessionConfig  `yaml:"session"`
	LLM      LLMConfig      `yaml:"llm"`
	Telegram TelegramConfig `yaml:"telegram"`
	Secrets  SecretsConfig  `yaml:"secrets"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// StoreConfig names the storefront. Domain is the public domain used in
// product links; AdminDomain is the *.myshopify.com host used for the API.
type StoreConfig struct {
	Domain      string `yaml:"domain"`
	AdminDomain string `yaml:"admin_domain"`
	APIVersion  string `yaml:"api_version"`
}

type CatalogConfig struct {
	RefreshInterval     time.Duration `yaml:"refresh_interval"`
	FetchTimeout        time.Duration `yaml:"fetch_timeout"`
	Mode                string        `yaml:"mode"`
	MaxItems            int           `yaml:"max_items"`
	MaxDescriptionRunes int           `yaml:"max_description_runes"`
}

type KeywordsConfig struct {
	Source string `yaml:"source"`
	File   string `yaml:"file"`
	Table  string `yaml:"table"`
}

type SessionConfig struct {
	MaxTurns int           `yaml:"max_turns"`
	TTL      time.Duration `yaml:"ttl"`
}

type LLMConfig struct {
	Backend      string        `yaml:"backend"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	Temperature  float32       `yaml:"temperature"`
	Moderation   bool          `yaml:"moderation"`
	Instructions string        `yaml:"instructions"`
}

type TelegramConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ImageTimeout time.Duration `yaml:"image_timeout"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
}

// SecretsConfig points at the SSM prefix holding secrets. An empty prefix
// means secrets come from the environment only.
type SecretsConfig struct {
	ParamPrefix string `yaml:"param_prefix"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadDotEnv loads .env files into the process environment if present.
// Variables already set are not overwritten.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		_ = godotenv.Load()
		return
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             5000,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     60 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Store: StoreConfig{
			APIVersion: "2024-10",
		},
		Catalog: CatalogConfig{
			RefreshInterval:     10 * time.Minute,
			FetchTimeout:        15 * time.Second,
			Mode:                CatalogModeFiltered,
			MaxItems:            20,
			MaxDescriptionRunes: 400,
		},
		Keywords: KeywordsConfig{
			Source: KeywordsFromFile,
			File:   "keywords.yaml",
		},
		Session: SessionConfig{
			MaxTurns: 10,
			TTL:      time.Hour,
		},
		LLM: LLMConfig{
			Backend:    BackendGemini,
			Timeout:    30 * time.Second,
			Moderation: true,
		},
		Telegram: TelegramConfig{
			ImageTimeout: 10 * time.Second,
			SendTimeout:  10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Store.Domain) == "" {
		return fmt.Errorf("store.domain is required")
	}
	if strings.Contains(c.Store.Domain, "/") {
		return fmt.Errorf("store.domain must be a bare host, got %q", c.Store.Domain)
	}
	if c.Catalog.RefreshInterval <= 0 {
		return fmt.Errorf("catalog.refresh_interval must be positive")
	}
	if c.Catalog.Mode != CatalogModeFiltered && c.Catalog.Mode != CatalogModeDictionary {
		return fmt.Errorf("invalid catalog mode: %s", c.Catalog.Mode)
	}
	if c.Catalog.MaxItems < 1 {
		return fmt.Errorf("catalog.max_items must be at least 1")
	}
	switch c.Keywords.Source {
	case KeywordsFromFile:
		if strings.TrimSpace(c.Keywords.File) == "" {
			return fmt.Errorf("keywords.file is required for source %q", KeywordsFromFile)
		}
	case KeywordsFromDynamoDB:
		if strings.TrimSpace(c.Keywords.Table) == "" {
			return fmt.Errorf("keywords.table is required for source %q", KeywordsFromDynamoDB)
		}
	default:
		return fmt.Errorf("invalid keywords source: %s", c.Keywords.Source)
	}
	if c.Session.MaxTurns < 1 {
		return fmt.Errorf("session.max_turns must be at least 1")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.LLM.Backend != BackendGemini && c.LLM.Backend != BackendOpenAI {
		return fmt.Errorf("invalid llm backend: %s", c.LLM.Backend)
	}
	return nil
}

// ShopifyDomain is the host used for Admin API calls.
func (c *Config) ShopifyDomain() string {
	if c.Store.AdminDomain != "" {
		return c.Store.AdminDomain
	}
	return c.Store.Domain
}

type lookupFunc func(string) (string, bool)

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var firstErr error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("config: %s: %w", key, err)
				}
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("config: %s: %w", key, err)
				}
				return
			}
			*dst = d
		}
	}

	str("SERVER_HOST", &cfg.Server.Host)
	num("PORT", &cfg.Server.Port)
	str("STORE_DOMAIN", &cfg.Store.Domain)
	str("SHOPIFY_SHOP_DOMAIN", &cfg.Store.AdminDomain)
	str("SHOPIFY_API_VERSION", &cfg.Store.APIVersion)
	dur("CATALOG_REFRESH_INTERVAL", &cfg.Catalog.RefreshInterval)
	str("CATALOG_MODE", &cfg.Catalog.Mode)
	num("CATALOG_MAX_ITEMS", &cfg.Catalog.MaxItems)
	str("KEYWORDS_SOURCE", &cfg.Keywords.Source)
	str("KEYWORDS_FILE", &cfg.Keywords.File)
	str("KEYWORDS_TABLE", &cfg.Keywords.Table)
	num("SESSION_MAX_TURNS", &cfg.Session.MaxTurns)
	dur("SESSION_TTL", &cfg.Session.TTL)
	str("LLM_BACKEND", &cfg.LLM.Backend)
	str("LLM_MODEL", &cfg.LLM.Model)
	str("LLM_BASE_URL", &cfg.LLM.BaseURL)
	dur("LLM_TIMEOUT", &cfg.LLM.Timeout)
	str("PARAM_PREFIX", &cfg.Secrets.ParamPrefix)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup("KEYWORDS_TABLE"); ok && v != "" {
		if _, set := lookup("KEYWORDS_SOURCE"); !set {
			cfg.Keywords.Source = KeywordsFromDynamoDB
		}
	}
	return firstErr
}
