package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerAddress  = ":5000"
	DefaultSQLiteDSN      = "chat_history.db"
	DefaultHistoryLimit   = 10
	DefaultArticleTimeout = 15
	DefaultArticleTTL     = 600
	DefaultSearchURL      = "https://www.36kr.com/search/articles/8%E7%82%B91%E6%B0%AA"
	DefaultArticleOrigin  = "https://www.36kr.com"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig     `json:"basic_config" yaml:"basic_config"`
	Database    DatabaseConfig  `json:"database" yaml:"database"`
	Redis       RedisConfig     `json:"redis" yaml:"redis"`
	Whitelist   WhitelistConfig `json:"whitelist" yaml:"whitelist"`
	Article     ArticleConfig   `json:"article" yaml:"article"`
	Log         LogConfig       `json:"log" yaml:"log"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address" env:"SERVER_ADDRESS"`
	HistoryLimit  int    `json:"history_limit" yaml:"history_limit" env:"HISTORY_LIMIT"`
}

// DatabaseConfig selects the driver and its connection settings.
// DSN is used by sqlite3, the remaining fields by mysql.
type DatabaseConfig struct {
	Driver   string `json:"driver" yaml:"driver" env:"CHATKEEPER_DB"`
	DSN      string `json:"dsn" yaml:"dsn" env:"SQLITE_DSN"`
	Username string `json:"username" yaml:"username" env:"MYSQL_USER"`
	Password string `json:"password" yaml:"password" env:"MYSQL_PASSWORD"`
	Host     string `json:"host" yaml:"host" env:"MYSQL_HOST"`
	Port     int    `json:"port" yaml:"port" env:"MYSQL_PORT"`
	DBName   string `json:"db_name" yaml:"db_name" env:"MYSQL_DATABASE"`
	Params   string `json:"params" yaml:"params" env:"MYSQL_PARAMS"`
}

// RedisConfig is optional; an empty Addr disables the article cache.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" env:"REDIS_ADDR"`
	Username string `json:"username" yaml:"username" env:"REDIS_USERNAME"`
	Password string `json:"password" yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `json:"db" yaml:"db" env:"REDIS_DB"`
}

type WhitelistConfig struct {
	Rooms    List `json:"rooms" yaml:"rooms" env:"ROOM_WHITELIST"`
	Contacts List `json:"contacts" yaml:"contacts" env:"ALIAS_WHITELIST"`
}

type ArticleConfig struct {
	SearchURL       string `json:"search_url" yaml:"search_url" env:"ARTICLE_SEARCH_URL"`
	Origin          string `json:"origin" yaml:"origin" env:"ARTICLE_ORIGIN"`
	TimeoutSeconds  int    `json:"timeout_seconds" yaml:"timeout_seconds" env:"ARTICLE_TIMEOUT"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" env:"ARTICLE_CACHE_TTL"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	File  string `json:"file" yaml:"file" env:"LOG_FILE"`
}

// List is a set of names given either as a JSON array or as a
// comma-separated string. Entries are trimmed and empty ones dropped.
type List []string

func (l *List) UnmarshalText(text []byte) error {
	*l = splitList(string(text))
	return nil
}

func (l *List) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err == nil {
		*l = splitList(strings.Join(items, ","))
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("list must be a string or an array of strings: %w", err)
	}
	*l = splitList(raw)
	return nil
}

func (l *List) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = splitList(strings.Join(items, ","))
	case yaml.ScalarNode:
		*l = splitList(node.Value)
	default:
		return fmt.Errorf("list must be a string or a sequence of strings (line %d)", node.Line)
	}
	return nil
}

func splitList(raw string) List {
	out := List{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; variables already set are kept.
func LoadEnvFile(path string) error {
	if path == "" {
		path = filepath.Join("config", ".env")
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from the provided JSON or YAML file (defaults to config.json)
// and overlays environment variables. The default file may be absent.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	fromFile := false
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := decodeFile(file, absPath, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		fromFile = true
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.applyDefaults()

	switch cfg.Database.Driver {
	case "sqlite3":
		if fromFile && isRelativePath(cfg.Database.DSN) {
			cfg.Database.DSN = filepath.Join(filepath.Dir(absPath), cfg.Database.DSN)
		}
	case "mysql":
		if cfg.Database.Host == "" || cfg.Database.DBName == "" {
			return nil, fmt.Errorf("mysql host and db_name must be configured")
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
	return &cfg, nil
}

// decodeFile picks YAML for .yaml/.yml files and JSON otherwise.
func decodeFile(r io.Reader, path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(r).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		return json.NewDecoder(r).Decode(cfg)
	}
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if c.BasicConfig.HistoryLimit <= 0 || c.BasicConfig.HistoryLimit > DefaultHistoryLimit {
		c.BasicConfig.HistoryLimit = DefaultHistoryLimit
	}
	driver := strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if driver == "" || driver == "sqlite" {
		driver = "sqlite3"
	}
	c.Database.Driver = driver
	if driver == "sqlite3" && c.Database.DSN == "" {
		c.Database.DSN = DefaultSQLiteDSN
	}
	if driver == "mysql" && c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Whitelist.Rooms == nil {
		c.Whitelist.Rooms = List{}
	}
	if c.Whitelist.Contacts == nil {
		c.Whitelist.Contacts = List{}
	}
	if c.Article.SearchURL == "" {
		c.Article.SearchURL = DefaultSearchURL
	}
	if c.Article.Origin == "" {
		c.Article.Origin = DefaultArticleOrigin
	}
	if c.Article.TimeoutSeconds <= 0 {
		c.Article.TimeoutSeconds = DefaultArticleTimeout
	}
	if c.Article.CacheTTLSeconds < 0 {
		c.Article.CacheTTLSeconds = 0
	} else if c.Article.CacheTTLSeconds == 0 {
		c.Article.CacheTTLSeconds = DefaultArticleTTL
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func isRelativePath(dsn string) bool {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return false
	}
	return !filepath.IsAbs(dsn)
}
