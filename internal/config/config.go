package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DBMemory   = "memory"
	DBSQLite   = "sqlite"
	DBPostgres = "postgres"
)

type Config struct {
	Env string

	Log   LogConfig
	API   APIConfig
	Cache CacheConfig
	Views ViewsConfig
	Stub  StubConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// APIConfig locates the teacher service.
type APIConfig struct {
	BaseURL     string
	FaceBaseURL string
	Token       string
	Timeout     time.Duration
}

type CacheConfig struct {
	Capacity           int
	NumShards          int
	EvictionPercentage int
	LoadTimeout        time.Duration
}

type ViewsConfig struct {
	PageSize         int
	PhoneCountryCode string
}

// StubConfig drives the local stand-in for the teacher service.
type StubConfig struct {
	Addr     string
	DBDriver string
	DBDSN    string
	JWT      JWTConfig
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

// Load reads .env from the working directory (if present) and the environment.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom reads the env file at path (if present) and the environment.
// Environment variables win over file values.
func LoadFrom(path string) (*Config, error) {
	_ = godotenv.Load(path)

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	cfg := &Config{}
	cfg.Env = v.GetString("ENV")

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.API = APIConfig{
		BaseURL:     v.GetString("API_BASE_URL"),
		FaceBaseURL: v.GetString("FACE_API_BASE_URL"),
		Token:       v.GetString("API_TOKEN"),
		Timeout:     parseDuration(v.GetString("REQUEST_TIMEOUT"), 10*time.Second),
	}

	cfg.Cache = CacheConfig{
		Capacity:           v.GetInt("CACHE_CAPACITY"),
		NumShards:          v.GetInt("CACHE_NUM_SHARDS"),
		EvictionPercentage: v.GetInt("CACHE_EVICTION_PERCENTAGE"),
		LoadTimeout:        parseDuration(v.GetString("CACHE_LOAD_TIMEOUT"), 30*time.Second),
	}

	cfg.Views = ViewsConfig{
		PageSize:         v.GetInt("PAGE_SIZE"),
		PhoneCountryCode: strings.TrimPrefix(strings.TrimSpace(v.GetString("PHONE_COUNTRY_CODE")), "+"),
	}

	cfg.Stub = StubConfig{
		Addr:     v.GetString("STUB_ADDR"),
		DBDriver: strings.ToLower(v.GetString("STUB_DB_DRIVER")),
		DBDSN:    v.GetString("STUB_DB_DSN"),
		JWT: JWTConfig{
			Secret:     v.GetString("STUB_JWT_SECRET"),
			Expiration: parseDuration(v.GetString("STUB_JWT_TTL"), 24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.Views.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.Views.PageSize)
	}
	if c.API.Timeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	for _, r := range c.Views.PhoneCountryCode {
		if r < '0' || r > '9' {
			return fmt.Errorf("PHONE_COUNTRY_CODE must be digits, got %q", c.Views.PhoneCountryCode)
		}
	}
	switch c.Stub.DBDriver {
	case DBMemory, DBSQLite, DBPostgres:
	default:
		return fmt.Errorf("STUB_DB_DRIVER must be one of memory, sqlite, postgres, got %q", c.Stub.DBDriver)
	}
	if c.Stub.DBDriver == DBPostgres && c.Stub.DBDSN == "" {
		return errors.New("STUB_DB_DSN is required for the postgres driver")
	}
	return nil
}

// IsProduction reports whether ENV selects production settings.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("API_BASE_URL", "http://217.114.4.62:30300/api")
	v.SetDefault("FACE_API_BASE_URL", "http://217.114.4.62:30300/api/v1")
	v.SetDefault("API_TOKEN", "")
	v.SetDefault("REQUEST_TIMEOUT", "10s")

	v.SetDefault("CACHE_CAPACITY", 2048)
	v.SetDefault("CACHE_NUM_SHARDS", 16)
	v.SetDefault("CACHE_EVICTION_PERCENTAGE", 10)
	v.SetDefault("CACHE_LOAD_TIMEOUT", "30s")

	v.SetDefault("PAGE_SIZE", 10)
	v.SetDefault("PHONE_COUNTRY_CODE", "998")

	v.SetDefault("STUB_ADDR", ":8080")
	v.SetDefault("STUB_DB_DRIVER", DBMemory)
	v.SetDefault("STUB_DB_DSN", "file:roster.db?cache=shared&_fk=1")
	v.SetDefault("STUB_JWT_SECRET", "")
	v.SetDefault("STUB_JWT_TTL", "24h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
