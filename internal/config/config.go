package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

type Config struct {
	Env string `yaml:"env"`
	// ShortDomain is the host of short URLs outside of the dev environment.
	ShortDomain string `yaml:"short_domain"`
	ShortCode   `yaml:"short_code"`
	Storage     `yaml:"storage"`
	Log         `yaml:"log"`
	HTTPServer  `yaml:"http_server"`
	Postgres    `yaml:"postgres"`
	SQLite      `yaml:"sqlite"`
	Cache       `yaml:"cache"`
}

type ShortCode struct {
	Length      int    `yaml:"length"`
	MaxAttempts int    `yaml:"max_attempts"`
	Alphabet    string `yaml:"alphabet"`
}

var defaultShortCode = ShortCode{
	Length:      4,
	MaxAttempts: 5,
	Alphabet:    "23456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ",
}

type Storage struct {
	Driver string `yaml:"driver"`
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type HTTPServer struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	CertFile       string        `yaml:"cert_file"`
	KeyFile        string        `yaml:"key_file"`
}

var defaultHTTPServer = HTTPServer{
	Port:           8080,
	ReadTimeout:    5 * time.Second,
	WriteTimeout:   10 * time.Second,
	IdleTimeout:    time.Minute,
	MaxHeaderBytes: 1 << 20,
}

func (s *HTTPServer) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type Postgres struct {
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	DB              string        `yaml:"db"`
	SSLMode         string        `yaml:"sslmode"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnectAttempts int           `yaml:"connect_attempts"`
}

var defaultPostgres = Postgres{
	Host:            "localhost",
	Port:            5432,
	SSLMode:         "disable",
	ConnMaxIdleTime: 5 * time.Minute,
	ConnMaxLifetime: 30 * time.Minute,
	MaxIdleConns:    5,
	MaxOpenConns:    25,
	ConnectAttempts: 5,
}

func (p *Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DB, p.SSLMode)
}

type SQLite struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

var defaultSQLite = SQLite{
	Path:        "./shortly.db",
	BusyTimeout: 5 * time.Second,
}

type Cache struct {
	Enabled  bool          `yaml:"enabled"`
	MaxItems int64         `yaml:"max_items"`
	TTL      time.Duration `yaml:"ttl"`
	Redis    Redis         `yaml:"redis"`
}

// Redis configures the shared second level cache; an empty Addr disables it.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

var defaultCache = Cache{
	MaxItems: 100_000,
	TTL:      5 * time.Minute,
}

// Load reads the YAML config at path. References to environment variables
// such as ${POSTGRES_PASSWORD} are expanded before decoding.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open config file: %w", op, err)
	}

	var cfg Config
	setDefaults(&cfg)

	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: failed to decode config file: %w", op, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case EnvDev, EnvStage, EnvProd:
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}

	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.ShortCode.Length <= 0 || c.ShortCode.MaxAttempts <= 0 {
		return fmt.Errorf("short code length and max attempts must be positive")
	}

	if c.Env != EnvDev && c.ShortDomain == "" {
		return fmt.Errorf("short_domain is required in %s env", c.Env)
	}

	return nil
}

func setDefaults(cfg *Config) {
	cfg.Env = EnvDev
	cfg.ShortDomain = "s.ly"
	cfg.ShortCode = defaultShortCode
	cfg.Storage = Storage{Driver: StoragePostgres}
	cfg.Log = Log{Level: "info"}
	cfg.HTTPServer = defaultHTTPServer
	cfg.Postgres = defaultPostgres
	cfg.SQLite = defaultSQLite
	cfg.Cache = defaultCache
}
