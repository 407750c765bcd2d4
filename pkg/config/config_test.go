package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func parse(t *testing.T, args ...string) *Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load %v: %v", args, err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := parse(t, "-env-file", "")
	if cfg.DB.DBType != "sqlite" || cfg.Port != 8765 || cfg.DB.Port != 8765 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.DB.DBPort != 5432 || cfg.DB.PGSSLMode != "prefer" || cfg.DB.DBName != "visits" {
		t.Fatalf("pg defaults = %+v", cfg.DB)
	}
	if cfg.Addr() != ":8765" {
		t.Fatalf("Addr = %q", cfg.Addr())
	}
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv("VISITMAP_DB_TYPE", "pgx")
	t.Setenv("VISITMAP_DB_HOST", "db.internal")

	cfg := parse(t, "-env-file", "", "-db-type", "genji")
	if cfg.DB.DBType != "genji" {
		t.Fatalf("flag should beat env: DBType = %q", cfg.DB.DBType)
	}
	if cfg.DB.DBHost != "db.internal" {
		t.Fatalf("env should beat default: DBHost = %q", cfg.DB.DBHost)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visitmap.yaml")
	body := "port: 9000\ndb-path: /srv/visits.sqlite\ndb-port: 6432\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VISITMAP_DB_PORT", "7432")

	cfg := parse(t, "-env-file", "", "-config", path)
	if cfg.Port != 9000 || cfg.DB.DBPath != "/srv/visits.sqlite" {
		t.Fatalf("config file ignored: %+v", cfg)
	}
	if cfg.DB.DBPort != 7432 {
		t.Fatalf("env should beat config file: DBPort = %d", cfg.DB.DBPort)
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "VISITMAP_DB_NAME"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s already set in the environment", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from_dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := parse(t, "-env-file", path)
	if cfg.DB.DBName != "from_dotenv" {
		t.Fatalf("DBName = %q, want from_dotenv", cfg.DB.DBName)
	}
}

func TestLoadMissingDotEnv(t *testing.T) {
	cfg := parse(t, "-env-file", filepath.Join(t.TempDir(), "absent.env"))
	if cfg.DB.DBType != "sqlite" {
		t.Fatalf("DBType = %q", cfg.DB.DBType)
	}
}

func TestLoadInvalidPort(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"-env-file", "", "-port", "0"}); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(fs); err == nil {
		t.Fatal("Load accepted port 0")
	}
}

func TestLoadConfigFileFlagBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visitmap.json")
	if err := os.WriteFile(path, []byte(`{"port": 9000, "domain": "visits.example.org"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := parse(t, "-env-file", "", "-config", path, "-port", "9100")
	if cfg.Port != 9100 {
		t.Fatalf("flag should beat config file: Port = %d", cfg.Port)
	}
	if cfg.Domain != "visits.example.org" {
		t.Fatalf("config file ignored: Domain = %q", cfg.Domain)
	}
}

func TestLoadLocationsFromEnv(t *testing.T) {
	const key = "VISITMAP_DB_USER"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s already set in the environment", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	envPath := filepath.Join(dir, "visitmap.env")
	if err := os.WriteFile(envPath, []byte(key+"=env_file_user\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "visitmap.yaml")
	if err := os.WriteFile(cfgPath, []byte("cert-dir: /var/lib/visitmap/certs\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VISITMAP_ENV_FILE", envPath)
	t.Setenv("VISITMAP_CONFIG", cfgPath)

	cfg := parse(t)
	if cfg.DB.DBUser != "env_file_user" {
		t.Fatalf("VISITMAP_ENV_FILE ignored: DBUser = %q", cfg.DB.DBUser)
	}
	if cfg.CertDir != "/var/lib/visitmap/certs" {
		t.Fatalf("VISITMAP_CONFIG ignored: CertDir = %q", cfg.CertDir)
	}
}
