package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Catalog  CatalogConfig
	Jobs     JobsConfig
	Auth     AuthConfig
	TopList  TopListConfig
	Search   SearchConfig
	Log      LogConfig
	Cache    CacheConfig
}

type ServerConfig struct {
	Port           int
	HandlerTimeout time.Duration
	// PublicBaseURL is where job runners reach the callback endpoints.
	PublicBaseURL string
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	URL string
}

type CatalogConfig struct {
	LookupURL string
	RPS       float64
	Timeout   time.Duration
}

type JobsConfig struct {
	// RunnerURL is the external job runner. Empty runs jobs in process.
	RunnerURL        string
	Workers          int
	TrackingInterval time.Duration
}

type AuthConfig struct {
	ClerkSecretKey string
	ImportSecret   string
}

type TopListConfig struct {
	Path string
}

type SearchConfig struct {
	URL string
	RPS float64
}

type LogConfig struct {
	Level  string
	Format string
}

type CacheConfig struct {
	RSSTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := GetEnv("PORT", 8080).(int)
	cfg := &Config{
		Server: ServerConfig{
			Port:           port,
			HandlerTimeout: GetEnv("HANDLER_TIMEOUT", 10*time.Second).(time.Duration),
			PublicBaseURL:  strings.TrimRight(GetEnv("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", port)).(string), "/"),
		},
		Database: DatabaseConfig{
			URL: GetEnv("DATABASE_URL", "sqlite:./data/podfeed.db").(string),
		},
		Redis: RedisConfig{
			URL: GetEnv("REDIS_URL", "redis://localhost:6379/0").(string),
		},
		Catalog: CatalogConfig{
			LookupURL: GetEnv("CATALOG_LOOKUP_URL", "https://itunes.apple.com/lookup").(string),
			RPS:       GetEnv("CATALOG_RPS", 5.0).(float64),
			Timeout:   GetEnv("CATALOG_TIMEOUT", 10*time.Second).(time.Duration),
		},
		Jobs: JobsConfig{
			RunnerURL:        GetEnv("JOB_RUNNER_URL", "").(string),
			Workers:          GetEnv("JOB_WORKERS", 4).(int),
			TrackingInterval: GetEnv("TRACKING_INTERVAL", 30*time.Minute).(time.Duration),
		},
		Auth: AuthConfig{
			ClerkSecretKey: GetEnv("CLERK_SECRET_KEY", "").(string),
			ImportSecret:   GetEnv("IMPORT_SECRET", "").(string),
		},
		TopList: TopListConfig{
			Path: GetEnv("TOPLIST_PATH", "./data/toplist.json").(string),
		},
		Search: SearchConfig{
			URL: GetEnv("SEARCH_URL", "").(string),
			RPS: GetEnv("SEARCH_RPS", 20.0).(float64),
		},
		Log: LogConfig{
			Level:  GetEnv("LOG_LEVEL", "info").(string),
			Format: GetEnv("LOG_FORMAT", "text").(string),
		},
		Cache: CacheConfig{
			RSSTTL: GetEnv("RSS_CACHE_TTL", 5*time.Minute).(time.Duration),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("missing env DATABASE_URL")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("missing env REDIS_URL")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.RunnerURL != "" && c.Auth.ImportSecret == "" {
		return fmt.Errorf("IMPORT_SECRET is required when JOB_RUNNER_URL is set")
	}
	return nil
}

func GetEnv(key string, defaultValue any) any {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch def := defaultValue.(type) {
	case string:
		return value
	case int:
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		return def
	case float64:
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		return def
	case bool:
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		return def
	case time.Duration:
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
		return def
	default:
		panic(fmt.Sprintf("unsupported type %T", defaultValue))
	}
}
