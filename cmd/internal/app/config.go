package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"relay/cmd/internal/auth"
	"relay/cmd/internal/realtime"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends selectable with RELAY_STORE.
const (
	StoreAuto     = "auto"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr      string `env:"RELAY_HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	PublicBaseURL string `env:"RELAY_PUBLIC_BASE_URL"`

	LogLevel  string `env:"RELAY_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"RELAY_LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"RELAY_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"RELAY_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"RELAY_HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"RELAY_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"RELAY_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	// Store is one of auto, postgres, sqlite, memory.
	// auto picks postgres when DatabaseURL is set, memory otherwise.
	Store        string        `env:"RELAY_STORE" envDefault:"auto"`
	StoreTimeout time.Duration `env:"RELAY_STORE_TIMEOUT" envDefault:"3s"`

	DatabaseURL string `env:"RELAY_DATABASE_URL"`
	DBSchema    string `env:"RELAY_DB_SCHEMA" envDefault:"relay"`
	DBMaxConns  int32  `env:"RELAY_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"RELAY_DB_MIN_CONNS" envDefault:"0"`
	DBMigrate   bool   `env:"RELAY_DB_MIGRATE" envDefault:"true"`

	SQLitePath string `env:"RELAY_SQLITE_PATH" envDefault:"relay.db"`

	// If true, /readyz returns 503 unless a durable store is configured and reachable.
	ReadinessRequireDB bool `env:"RELAY_READINESS_REQUIRE_DB" envDefault:"false"`

	PersistencePolicy string `env:"RELAY_PERSISTENCE_POLICY" envDefault:"fail_closed"`

	JWTSecret string `env:"RELAY_JWT_SECRET"`
	JWTIssuer string `env:"RELAY_JWT_ISSUER"`

	WSAllowedOrigins    []string      `env:"RELAY_WS_ALLOWED_ORIGINS" envSeparator:","`
	WSOriginRequired    bool          `env:"RELAY_WS_ORIGIN_REQUIRED" envDefault:"false"`
	WSDevInsecure       bool          `env:"RELAY_WS_DEV_INSECURE" envDefault:"false"`
	WSSendQueueSize     int           `env:"RELAY_WS_SEND_QUEUE" envDefault:"256"`
	WSWriteTimeout      time.Duration `env:"RELAY_WS_WRITE_TIMEOUT" envDefault:"5s"`
	WSReadIdleTimeout   time.Duration `env:"RELAY_WS_READ_IDLE_TIMEOUT" envDefault:"2m"`
	WSHeartbeatInterval time.Duration `env:"RELAY_WS_HEARTBEAT_INTERVAL" envDefault:"25s"`
	WSHeartbeatTimeout  time.Duration `env:"RELAY_WS_HEARTBEAT_TIMEOUT" envDefault:"5s"`
	WSRateEvents        int           `env:"RELAY_WS_RATE_EVENTS" envDefault:"120"`
	WSRateWindow        time.Duration `env:"RELAY_WS_RATE_WINDOW" envDefault:"10s"`

	CORSAllowedOrigins   []string `env:"RELAY_CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"RELAY_CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	CORSMaxAgeSeconds    int      `env:"RELAY_CORS_MAX_AGE_SECONDS" envDefault:"600"`

	RedisAddr     string `env:"RELAY_REDIS_ADDR"`
	RedisPassword string `env:"RELAY_REDIS_PASSWORD"`
	RedisDB       int    `env:"RELAY_REDIS_DB" envDefault:"0"`
	RedisKey      string `env:"RELAY_REDIS_PRESENCE_KEY" envDefault:"relay:presence"`
}

// LoadConfig loads optional .env files (missing files are ignored) and then
// parses RELAY_* variables. Variables already set in the process environment win.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.JWTSecret = strings.TrimSpace(c.JWTSecret)
	c.WSAllowedOrigins = trimAll(c.WSAllowedOrigins)
	c.CORSAllowedOrigins = trimAll(c.CORSAllowedOrigins)
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("RELAY_HTTP_ADDR is required"))
	}

	switch c.Store {
	case StoreAuto, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("RELAY_STORE=postgres requires RELAY_DATABASE_URL"))
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("RELAY_STORE=sqlite requires RELAY_SQLITE_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("RELAY_STORE must be auto, postgres, sqlite or memory; got %q", c.Store))
	}

	switch c.LogFormat {
	case "", "json", "text", "pretty":
	default:
		errs = append(errs, fmt.Errorf("RELAY_LOG_FORMAT must be json, text or pretty; got %q", c.LogFormat))
	}

	if _, err := realtime.ParsePersistencePolicy(c.PersistencePolicy); err != nil {
		errs = append(errs, fmt.Errorf("RELAY_PERSISTENCE_POLICY: %w", err))
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < auth.MinSecretBytes {
		errs = append(errs, fmt.Errorf("RELAY_JWT_SECRET is too short (min %d bytes)", auth.MinSecretBytes))
	}

	if c.DBMinConns > c.DBMaxConns && c.DBMaxConns > 0 {
		errs = append(errs, errors.New("RELAY_DB_MIN_CONNS must not exceed RELAY_DB_MAX_CONNS"))
	}

	return errors.Join(errs...)
}

// StoreBackend resolves auto to the concrete backend.
func (c Config) StoreBackend() string {
	if c.Store == "" || c.Store == StoreAuto {
		if c.DatabaseURL != "" {
			return StorePostgres
		}
		return StoreMemory
	}
	return c.Store
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
