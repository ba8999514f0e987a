package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for msgvis.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"PORT" env-default:"8000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:""`

	// ProjectRoot is the directory task paths (fixtures, static, docs) are resolved against.
	ProjectRoot    string `yaml:"project_root" env:"PROJECT_ROOT" env-default:"."`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Static   StaticConfig   `yaml:"static"`
	Fixtures FixturesConfig `yaml:"fixtures"`
	Importer ImporterConfig `yaml:"importer"`
}

// DatabaseConfig holds PostgreSQL database configuration.
// URL (DATABASE_URL) takes precedence over the individual fields.
type DatabaseConfig struct {
	URL            string `yaml:"-" env:"DATABASE_URL"` // May embed a password
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"msgvis"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"msgvis"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the explorer cache connection. An empty host disables caching.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// TTLSeconds bounds how long dimension aggregates stay cached.
	TTLSeconds int `yaml:"ttl_seconds" env:"REDIS_TTL_SECONDS" env-default:"300"`
}

// StaticConfig describes where static assets come from and where they are compiled to.
type StaticConfig struct {
	SourceDirs []string `yaml:"source_dirs" env:"STATIC_SOURCE_DIRS" env-separator:"," env-default:"static"`
	Root       string   `yaml:"root" env:"STATIC_ROOT" env-default:"build/static"`
	// CompressRoot enables gzip compression of collected assets when set.
	CompressRoot      string `yaml:"compress_root" env:"COMPRESS_ROOT" env-default:""`
	CompressOutputDir string `yaml:"compress_output_dir" env:"COMPRESS_OUTPUT_DIR" env-default:"CACHE"`
}

// FixturesConfig holds the fixture locations used by the data tasks.
type FixturesConfig struct {
	TestDataPath string   `yaml:"test_data_path" env:"TEST_DATA_PATH" env-default:"setup/fixtures/test_data.json"`
	ManifestPath string   `yaml:"manifest_path" env:"FIXTURES_MANIFEST" env-default:"setup/fixtures/manifest.yaml"`
	TestDataApps []string `yaml:"test_data_apps" env:"TEST_DATA_APPS" env-separator:"," env-default:"corpus"`
}

// ImporterConfig tunes the bulk message importer.
type ImporterConfig struct {
	Workers int `yaml:"workers" env:"IMPORT_WORKERS" env-default:"4"`
	// MaxRowsPerSecond throttles inserts; zero means unlimited.
	MaxRowsPerSecond float64 `yaml:"max_rows_per_second" env:"IMPORT_MAX_ROWS_PER_SECOND" env-default:"0"`
	MaxLineBytes     int     `yaml:"max_line_bytes" env:"IMPORT_MAX_LINE_BYTES" env-default:"1048576"`
}

// Load reads configuration from the YAML file at path with environment variable overrides.
// A missing file is not an error: defaults and the environment are used instead,
// so tasks such as print_env work in a fresh checkout.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Importer.Workers < 1 {
		return fmt.Errorf("importer.workers must be at least 1, got %d", c.Importer.Workers)
	}
	if c.Importer.MaxRowsPerSecond < 0 {
		return fmt.Errorf("importer.max_rows_per_second must not be negative")
	}
	if c.Static.CompressRoot != "" && c.Static.CompressOutputDir == "" {
		return fmt.Errorf("static.compress_output_dir is required when compress_root is set")
	}
	return nil
}

// Path resolves a project-relative path against ProjectRoot.
// Absolute paths are returned unchanged.
func (c *Config) Path(elem ...string) string {
	p := filepath.Join(elem...)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectRoot, p)
}

// IsDevelopment reports whether the environment should use development logging.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.Env) {
	case "local", "dev", "development", "test":
		return true
	}
	return false
}

// ListenAddr returns the host:port the explorer server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddr, c.Port)
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Name returns the database name, taken from URL when one is configured.
func (c *DatabaseConfig) Name() string {
	if c.URL == "" {
		return c.Database
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Path == "" {
		return c.Database
	}
	return strings.TrimPrefix(u.Path, "/")
}

// Enabled reports whether a Redis host is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// CompressionEnabled reports whether compressed static output is configured.
func (c *StaticConfig) CompressionEnabled() bool {
	return c.CompressRoot != ""
}

// CacheDir returns the compressed output directory, or "" when compression is off.
func (c *StaticConfig) CacheDir() string {
	if !c.CompressionEnabled() {
		return ""
	}
	return filepath.Join(c.CompressRoot, c.CompressOutputDir)
}
