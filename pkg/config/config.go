// Package config merges command-line flags, an optional config file, a
// .env file and VISITMAP_* environment variables into one Config.
//
// Precedence, lowest first: flag defaults, config file, environment
// (including .env), flags given on the command line.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"airport-visit-map/pkg/database"
)

// EnvPrefix prefixes every environment override, e.g. VISITMAP_DB_TYPE.
const EnvPrefix = "VISITMAP"

// Config is the resolved runtime configuration.
type Config struct {
	DB      database.Config
	Port    int    // Plain HTTP port, ignored in domain mode
	Domain  string // Serve :80/:443 with Let's Encrypt when set
	CertDir string // autocert cache directory
}

// Addr returns the plain HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RegisterFlags declares every configuration flag on fs.
func RegisterFlags(fs *flag.FlagSet) {
	fs.String("config", "", "Path to a YAML/TOML/JSON config file")
	fs.String("env-file", ".env", "Path to a dotenv file with VISITMAP_* variables (ignored when missing)")
	fs.String("db-type", "sqlite", "Type of the database driver: sqlite, chai, genji, duckdb, or pgx (postgresql)")
	fs.String("db-path", "", "Path to the database file (defaults to the current folder, applicable for sqlite, chai, genji, duckdb drivers)")
	fs.String("db-conn", "", "Full PostgreSQL DSN; overrides the other db-* network flags (pgx driver)")
	fs.String("db-host", "127.0.0.1", "Database host (applicable for pgx driver)")
	fs.Int("db-port", 5432, "Database port (applicable for pgx driver)")
	fs.String("db-user", "postgres", "Database user (applicable for pgx driver)")
	fs.String("db-pass", "", "Database password (applicable for pgx driver)")
	fs.String("db-name", "visits", "Database name (applicable for pgx driver)")
	fs.String("pg-ssl-mode", "prefer", "PostgreSQL SSL mode: disable, allow, prefer, require, verify-ca, or verify-full")
	fs.Int("port", 8765, "Port for running the server")
	fs.String("domain", "", "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
	fs.String("cert-dir", "certs", "Directory for cached Let's Encrypt certificates")
}

// Load resolves the configuration from a parsed flag set.
func Load(flags *flag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags.VisitAll(func(f *flag.Flag) {
		v.SetDefault(f.Name, f.DefValue)
	})

	// Flags typed on the command line beat everything else, including the
	// env-file and config locations read below.
	flags.Visit(func(f *flag.Flag) {
		v.Set(f.Name, f.Value.String())
	})

	if envFile := v.GetString("env-file"); envFile != "" {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		DB: database.Config{
			DBType:    v.GetString("db-type"),
			DBPath:    v.GetString("db-path"),
			DBConn:    v.GetString("db-conn"),
			DBHost:    v.GetString("db-host"),
			DBPort:    v.GetInt("db-port"),
			DBUser:    v.GetString("db-user"),
			DBPass:    v.GetString("db-pass"),
			DBName:    v.GetString("db-name"),
			PGSSLMode: v.GetString("pg-ssl-mode"),
		},
		Port:    v.GetInt("port"),
		Domain:  strings.TrimSpace(v.GetString("domain")),
		CertDir: v.GetString("cert-dir"),
	}
	cfg.DB.Port = cfg.Port

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}
