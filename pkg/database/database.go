package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Database wraps the pooled handle of the configured engine. Visit
// operations check out one connection per call and release it before
// returning, so the pool is the only state shared between requests.
type Database struct {
	DB     *sql.DB // The underlying SQL database pool
	Driver string  // Normalized driver name so SQL builders can stay declarative
}

// errDatabaseUnavailable is returned when a nil Database or pool is used.
var errDatabaseUnavailable = errors.New("database unavailable")

// normalizeDBType trims and lowercases driver names so dialect lookups do
// not miss an engine just because a caller passed mixed case.
func normalizeDBType(dbType string) string {
	return strings.ToLower(strings.TrimSpace(dbType))
}

// Config holds the configuration details for initializing the database.
type Config struct {
	DBType    string // The type of the database driver: "sqlite", "chai", "genji", "duckdb" or "pgx" (PostgreSQL)
	DBPath    string // The file path to the database file (for file-based databases)
	DBConn    string // Raw DSN for pgx; overrides the host/user fields when set
	DBHost    string // The host for PostgreSQL
	DBPort    int    // The port for PostgreSQL
	DBUser    string // The user for PostgreSQL
	DBPass    string // The password for PostgreSQL
	DBName    string // The name of the PostgreSQL database
	PGSSLMode string // The SSL mode for PostgreSQL
	Port      int    // The HTTP port, used in default database file names
}

// dataSourceName builds the DSN handed to sql.Open for the given driver.
// File engines fall back to a per-port file in the working directory.
func dataSourceName(config Config, driverName string) (string, error) {
	switch driverName {
	case "sqlite", "chai", "genji", "duckdb":
		if dsn := strings.TrimSpace(config.DBPath); dsn != "" {
			return dsn, nil
		}
		return fmt.Sprintf("visits-%d.%s", config.Port, driverName), nil
	case "pgx":
		if dsn := strings.TrimSpace(config.DBConn); dsn != "" {
			return dsn, nil
		}
		sslMode := config.PGSSLMode
		if sslMode == "" {
			sslMode = "prefer"
		}
		dsn := url.URL{
			Scheme:   "postgres",
			Host:     config.DBHost + ":" + strconv.Itoa(config.DBPort),
			Path:     "/" + config.DBName,
			RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
		}
		if config.DBPass != "" {
			dsn.User = url.UserPassword(config.DBUser, config.DBPass)
		} else if config.DBUser != "" {
			dsn.User = url.User(config.DBUser)
		}
		return dsn.String(), nil
	case "clickhouse":
		return "", fmt.Errorf("database type %s has no transactions and cannot record visits", driverName)
	default:
		return "", fmt.Errorf("unsupported database type: %s", driverName)
	}
}

// redactDSN hides the password of URL-shaped DSNs before they are logged.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}

// NewDatabase opens DB and configures connection pooling.
// For SQLite/Chai/Genji/DuckDB we force single-connection mode: the engines
// lock the file anyway and one writer keeps upserts free of busy errors.
func NewDatabase(config Config) (*Database, error) {
	driverName := normalizeDBType(config.DBType)
	dsn, err := dataSourceName(config, driverName)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening the database: %w", err)
	}

	switch driverName {
	case "sqlite", "chai", "genji":
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if driverName == "sqlite" {
			tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := tuneSQLiteLikeConnection(tuneCtx, db, log.Printf); err != nil {
				log.Printf("sqlite tuning skipped: %v", err)
			}
			cancel()
		} else {
			log.Printf("sqlite tuning skipped: driver %s manages pragmas itself", driverName)
		}
	case "duckdb":
		// DuckDB serializes writers through its transaction log; one
		// connection avoids spurious transaction conflicts on the counter.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := tuneDuckDBConnection(tuneCtx, db, log.Printf); err != nil {
			log.Printf("duckdb tuning skipped: %v", err)
		}
		cancel()
	case "pgx":
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	// Cheap liveness probe with timeout so we don't hang at startup
	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("error connecting to the database: %w", err)
		}
	}

	log.Printf("Using database driver: %s with DSN: %s", driverName, redactDSN(dsn))

	return &Database{
		DB:     db,
		Driver: driverName,
	}, nil
}

// Close releases the pool. Safe to call on a nil Database.
func (db *Database) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	return db.DB.Close()
}

// tuneSQLiteLikeConnection applies WAL/synchronous/busy pragmas for SQLite.
// The steps run through a small channel pipeline so the work happens
// outside the caller goroutine and stops early on context cancellation.
func tuneSQLiteLikeConnection(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	type pragma struct {
		label     string
		query     string
		expectRow bool
	}

	steps := []pragma{
		{label: "journal_mode", query: "PRAGMA journal_mode=WAL;", expectRow: true},
		{label: "synchronous", query: "PRAGMA synchronous=NORMAL;"},
		{label: "temp_store", query: "PRAGMA temp_store=MEMORY;"},
		{label: "busy_timeout", query: "PRAGMA busy_timeout=5000;"},
	}

	jobs := make(chan pragma)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		for step := range jobs {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				// Drain so the producer never blocks on a dead consumer.
				for range jobs {
				}
				return
			default:
			}

			if step.expectRow {
				var mode string
				if err := db.QueryRowContext(ctx, step.query).Scan(&mode); err != nil {
					errs <- fmt.Errorf("apply %s: %w", step.label, err)
					for range jobs {
					}
					return
				}
				logf("SQLite tuning %s -> %s", step.label, mode)
				continue
			}

			if _, err := db.ExecContext(ctx, step.query); err != nil {
				errs <- fmt.Errorf("apply %s: %w", step.label, err)
				for range jobs {
				}
				return
			}
			logf("SQLite tuning %s applied", step.label)
		}
		errs <- nil
	}()

	go func() {
		defer close(jobs)
		for _, step := range steps {
			jobs <- step
		}
	}()

	return <-errs
}

// tuneDuckDBConnection lets DuckDB use every available CPU; container
// defaults are often conservative.
func tuneDuckDBConnection(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA threads=%d;", threads)); err != nil {
		return fmt.Errorf("apply threads: %w", err)
	}
	logf("DuckDB tuning threads=%d applied", threads)
	return nil
}

// placeholder returns the bind marker for the n-th argument: PostgreSQL
// wants $n, every other supported engine accepts ?.
func placeholder(driver string, n int) string {
	if normalizeDBType(driver) == "pgx" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}
