package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration of the migration command.
type Config struct {
	Source      Source `yaml:"source"`
	Target      Target `yaml:"target"`
	LogFile     string `yaml:"logFile"`
	MetricsFile string `yaml:"metricsFile"`
	ProgressBar bool   `yaml:"progressBar"`
}

// Source is the legacy database rows are read from.
type Source struct {
	// Driver is one of mysql, sqlite or pgx.
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSH      SSH    `yaml:"ssh"`
	// SkipCount disables the COUNT(*) run before every unit query. The
	// progress total is then unknown.
	SkipCount bool `yaml:"skipCount"`
}

// SSH configures an optional bastion tunnel for MySQL sources.
type SSH struct {
	User    string `yaml:"user"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	KeyPath string `yaml:"keyPath"`
	// KnownHosts is a known_hosts file used to verify the bastion. Without
	// it the host key is not checked.
	KnownHosts string `yaml:"knownHosts"`
}

// Enabled reports whether the source is reached through a tunnel.
func (s SSH) Enabled() bool { return s.Host != "" }

// Target is the database records are written into.
type Target struct {
	// Driver is one of postgres or sqlite.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// LogLevel is the gorm log level: silent, error, warn or info.
	LogLevel string `yaml:"logLevel"`
}

// Environment overrides, applied after the file is read.
const (
	EnvSourceDSN      = "MIGRATION_SOURCE_DSN"
	EnvSourcePassword = "MIGRATION_SOURCE_PASSWORD"
	EnvTargetDSN      = "MIGRATION_TARGET_DSN"
)

// Load reads the YAML file at path. An empty path yields the defaults.
// Environment overrides are applied in both cases.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// LoadEnv loads .env style files into the process environment. Missing files
// are ignored; variables already set win.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvSourceDSN); v != "" {
		cfg.Source.DSN = v
	}
	if v := os.Getenv(EnvSourcePassword); v != "" {
		cfg.Source.Password = v
	}
	if v := os.Getenv(EnvTargetDSN); v != "" {
		cfg.Target.DSN = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Source.Driver == "" {
		cfg.Source.Driver = "mysql"
	}
	if cfg.Source.Driver == "mysql" && cfg.Source.Port == 0 {
		cfg.Source.Port = 3306
	}
	if cfg.Source.SSH.Enabled() && cfg.Source.SSH.Port == 0 {
		cfg.Source.SSH.Port = 22
	}
	if cfg.Target.Driver == "" {
		cfg.Target.Driver = "postgres"
	}
	if cfg.Target.LogLevel == "" {
		cfg.Target.LogLevel = "warn"
	}
	if cfg.LogFile == "" {
		cfg.LogFile = "migration.log"
	}
}

// Validate rejects configurations no database can be opened with.
func (c Config) Validate() error {
	switch c.Source.Driver {
	case "mysql":
		if c.Source.DSN == "" && (c.Source.Host == "" || c.Source.Name == "") {
			return errors.New("source: mysql needs a dsn or host and name")
		}
	case "sqlite", "pgx":
		if c.Source.DSN == "" {
			return fmt.Errorf("source: %s needs a dsn", c.Source.Driver)
		}
	default:
		return fmt.Errorf("source: unknown driver %q", c.Source.Driver)
	}
	if c.Source.SSH.Enabled() && c.Source.Driver != "mysql" {
		return errors.New("source: ssh tunnels are only supported for mysql")
	}

	switch c.Target.Driver {
	case "postgres", "sqlite":
		if c.Target.DSN == "" {
			return fmt.Errorf("target: %s needs a dsn", c.Target.Driver)
		}
	default:
		return fmt.Errorf("target: unknown driver %q", c.Target.Driver)
	}

	switch c.Target.LogLevel {
	case "silent", "error", "warn", "info":
	default:
		return fmt.Errorf("target: unknown log level %q", c.Target.LogLevel)
	}
	return nil
}
