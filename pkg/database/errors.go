package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// SchemaError reports that the storage engine rejected a table definition.
// It is not retryable within a request: the visit must not be recorded.
type SchemaError struct {
	Table string // Table whose definition failed; empty for setup steps
	Err   error
}

func (e *SchemaError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("ensure schema: %v", e.Err)
	}
	return fmt.Sprintf("ensure schema %s: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Steps of the visit transaction, in execution order.
const (
	StepAcquire          = "acquire connection"
	StepBegin            = "begin"
	StepInsertCounter    = "insert counter"
	StepIncrementCounter = "increment counter"
	StepInsertCoordinate = "insert coordinate"
	StepCommit           = "commit"
)

// WriteError reports a failed or rolled back visit transaction. Callers
// must assume none of its writes persisted.
type WriteError struct {
	Step string // One of the Step constants
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("record visit (%s): %v", e.Step, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Conflict reports whether the engine aborted the transaction because of a
// concurrent writer. Informational only: nothing here retries.
func (e *WriteError) Conflict() bool {
	return isConflict(e.Err)
}

// ReadError reports a failed list query.
type ReadError struct {
	Table string
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Table, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// isConflict classifies serialization and lock errors across engines.
// PostgreSQL exposes SQLSTATE codes; SQLite and DuckDB only leave text.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "transaction conflict")
}
