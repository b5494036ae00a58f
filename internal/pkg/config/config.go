package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cache backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config represents the application configuration
// SSOT: 모든 설정은 .env 파일 또는 환경 변수에서 로드됨
type Config struct {
	Cache    CacheConfig
	Fetch    FetchConfig
	Tiingo   TiingoConfig
	Yahoo    YahooConfig
	Naver    NaverConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
	Schedule ScheduleConfig
	Server   ServerConfig
}

type CacheConfig struct {
	Dir        string
	Backend    string // file, sqlite
	SQLitePath string
	StartDate  string // YYYY-MM-DD, first day of a full history
}

type FetchConfig struct {
	MaxRetries         int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	MinRequestInterval time.Duration
	Workers            int
	Timeout            time.Duration
}

type TiingoConfig struct {
	APIKey  string
	BaseURL string
}

type YahooConfig struct {
	BaseURL string
}

type NaverConfig struct {
	BaseURL      string
	PageInterval time.Duration // pause between sise_day pages
}

// DatabaseConfig 실행 이력 저장용 (URL이 비어 있으면 비활성)
type DatabaseConfig struct {
	URL             string // SSOT: DATABASE_URL
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig 최신 종가 발행용 (Addr가 비어 있으면 비활성)
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	TTL          time.Duration
}

type LoggingConfig struct {
	Level         string
	Format        string
	FileEnabled   bool
	FilePath      string
	RotationSize  int // MB
	RetentionDays int
}

type ScheduleConfig struct {
	UpdateCron   string
	UniverseFile string
}

// ServerConfig 읽기 전용 HTTP API (serve 커맨드)
type ServerConfig struct {
	Port           int
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Load loads configuration from .env files (default ".env") and the environment.
// A missing .env file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		// .env 파일이 없어도 계속 진행 (환경 변수에서 로드 시도)
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	config := &Config{
		Cache: CacheConfig{
			Dir:        getEnv("CACHE_DIR", "data/cache"),
			Backend:    getEnv("CACHE_BACKEND", BackendFile),
			SQLitePath: getEnv("CACHE_SQLITE_PATH", "data/cache/prices.db"),
			StartDate:  getEnv("CACHE_START_DATE", "2005-01-01"),
		},
		Fetch: FetchConfig{
			MaxRetries:         getEnvInt("FETCH_MAX_RETRIES", 3),
			BaseDelay:          getEnvDuration("FETCH_BASE_DELAY", 1*time.Second),
			MaxDelay:           getEnvDuration("FETCH_MAX_DELAY", 30*time.Second),
			MinRequestInterval: getEnvDuration("FETCH_MIN_REQUEST_INTERVAL", 1500*time.Millisecond),
			Workers:            getEnvInt("FETCH_WORKERS", 5),
			Timeout:            getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		},
		Tiingo: TiingoConfig{
			APIKey:  getEnv("TIINGO_API_KEY", ""),
			BaseURL: getEnv("TIINGO_BASE_URL", "https://api.tiingo.com"),
		},
		Yahoo: YahooConfig{
			BaseURL: getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
		},
		Naver: NaverConfig{
			BaseURL:      getEnv("NAVER_BASE_URL", "https://finance.naver.com"),
			PageInterval: getEnvDuration("NAVER_PAGE_INTERVAL", 150*time.Millisecond),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        int32(getEnvInt("DB_MAX_CONNS", 5)),
			MinConns:        int32(getEnvInt("DB_MIN_CONNS", 1)),
			MaxConnLifetime: 1 * time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", ""),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     10,
			MinIdleConns: 2,
			TTL:          getEnvDuration("REDIS_TTL", 7*24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:         getEnv("LOG_LEVEL", "info"),
			Format:        getEnv("LOG_FORMAT", "pretty"),
			FileEnabled:   getEnvBool("LOG_FILE_ENABLED", false),
			FilePath:      getEnv("LOG_FILE_PATH", "logs"),
			RotationSize:  getEnvInt("LOG_ROTATION_SIZE", 100),
			RetentionDays: getEnvInt("LOG_RETENTION_DAYS", 30),
		},
		Schedule: ScheduleConfig{
			UpdateCron:   getEnv("UPDATE_CRON", "30 6 * * 2-6"),
			UniverseFile: getEnv("UNIVERSE_FILE", "universe.yaml"),
		},
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8098),
			AllowedOrigins: getEnvList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RequestTimeout: getEnvDuration("SERVER_REQUEST_TIMEOUT", 5*time.Minute),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the fetch pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Fetch.Workers < 1 {
		return fmt.Errorf("FETCH_WORKERS must be positive, got %d", c.Fetch.Workers)
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("FETCH_MAX_RETRIES must not be negative, got %d", c.Fetch.MaxRetries)
	}
	if c.Fetch.BaseDelay < 0 || c.Fetch.MaxDelay < 0 || c.Fetch.MinRequestInterval < 0 {
		return errors.New("fetch delays must not be negative")
	}
	if c.Fetch.BaseDelay > c.Fetch.MaxDelay {
		return fmt.Errorf("FETCH_BASE_DELAY (%s) exceeds FETCH_MAX_DELAY (%s)", c.Fetch.BaseDelay, c.Fetch.MaxDelay)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port)
	}
	if c.Cache.Backend != BackendFile && c.Cache.Backend != BackendSQLite {
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}
	if _, err := c.Cache.Start(); err != nil {
		return fmt.Errorf("invalid CACHE_START_DATE: %w", err)
	}
	return nil
}

// Start returns the parsed StartDate.
func (c CacheConfig) Start() (time.Time, error) {
	return time.Parse("2006-01-02", c.StartDate)
}

// getEnv gets environment variable with fallback
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList gets a comma separated environment variable with fallback
func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
