package database

import (
	"context"
	"database/sql"
	"fmt"
)

// =====================
// Visit bookkeeping
// =====================

// EnsureSchema creates the counter and coordinates tables when they are
// missing. Repeated calls leave the schema and its rows untouched.
func (db *Database) EnsureSchema(ctx context.Context) error {
	if db == nil || db.DB == nil {
		return &SchemaError{Err: errDatabaseUnavailable}
	}
	d, err := dialectFor(db.Driver)
	if err != nil {
		return &SchemaError{Err: err}
	}

	conn, err := db.DB.Conn(ctx)
	if err != nil {
		return &SchemaError{Err: fmt.Errorf("%s: %w", StepAcquire, err)}
	}
	defer conn.Close()

	if d.schemaLockKey != 0 {
		return ensureSchemaLocked(ctx, conn, d)
	}
	for _, st := range d.schema {
		if _, err := conn.ExecContext(ctx, st.sql); err != nil {
			return &SchemaError{Table: st.table, Err: err}
		}
	}
	return nil
}

// ensureSchemaLocked runs the DDL inside one transaction holding an
// advisory lock. Concurrent CREATE TABLE IF NOT EXISTS on PostgreSQL can
// otherwise fail with a duplicate key on the catalog.
func ensureSchemaLocked(ctx context.Context, conn *sql.Conn, d dialect) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &SchemaError{Err: fmt.Errorf("%s: %w", StepBegin, err)}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, d.schemaLockKey); err != nil {
		return &SchemaError{Err: fmt.Errorf("advisory lock: %w", err)}
	}
	for _, st := range d.schema {
		if _, err := tx.ExecContext(ctx, st.sql); err != nil {
			return &SchemaError{Table: st.table, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &SchemaError{Err: fmt.Errorf("%s: %w", StepCommit, err)}
	}
	return nil
}

// RecordVisit counts one visit for (country, city) and remembers the
// coordinate pair. The upsert, the relative increment and the coordinate
// insert commit together or not at all. Duplicate coordinates keep the
// airport code that was stored first.
func (db *Database) RecordVisit(ctx context.Context, v Visit) error {
	if db == nil || db.DB == nil {
		return &WriteError{Step: StepAcquire, Err: errDatabaseUnavailable}
	}
	d, err := dialectFor(db.Driver)
	if err != nil {
		return &WriteError{Step: StepAcquire, Err: err}
	}

	conn, err := db.DB.Conn(ctx)
	if err != nil {
		return &WriteError{Step: StepAcquire, Err: err}
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Step: StepBegin, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, d.insertCounter, v.Country, v.City); err != nil {
		return &WriteError{Step: StepInsertCounter, Err: err}
	}

	res, err := tx.ExecContext(ctx, d.incrementCounter, v.Country, v.City)
	if err != nil {
		return &WriteError{Step: StepIncrementCounter, Err: err}
	}
	if d.reportsRows {
		n, err := res.RowsAffected()
		if err != nil {
			return &WriteError{Step: StepIncrementCounter, Err: err}
		}
		if n != 1 {
			return &WriteError{Step: StepIncrementCounter, Err: fmt.Errorf("updated %d counter rows, want 1", n)}
		}
	}

	if _, err := tx.ExecContext(ctx, d.insertCoordinate, v.Lat, v.Lon, v.Airport); err != nil {
		return &WriteError{Step: StepInsertCoordinate, Err: err}
	}

	committed = true
	if err := tx.Commit(); err != nil {
		return &WriteError{Step: StepCommit, Err: err}
	}
	return nil
}

// ListCounters returns every (country, city) counter in storage order.
func (db *Database) ListCounters(ctx context.Context) ([]CounterRow, error) {
	if db == nil || db.DB == nil {
		return nil, &ReadError{Table: "counter", Err: errDatabaseUnavailable}
	}
	d, err := dialectFor(db.Driver)
	if err != nil {
		return nil, &ReadError{Table: "counter", Err: err}
	}

	var out []CounterRow
	err = db.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, d.selectCounters)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				row   CounterRow
				value int64
			)
			if err := rows.Scan(&row.Country, &row.City, &value); err != nil {
				return err
			}
			if value < 0 {
				return fmt.Errorf("counter %s/%s holds negative value %d", row.Country, row.City, value)
			}
			row.Value = uint64(value)
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, &ReadError{Table: "counter", Err: err}
	}
	return out, nil
}

// ListCoordinates returns every distinct visited coordinate pair.
func (db *Database) ListCoordinates(ctx context.Context) ([]CoordinateRow, error) {
	if db == nil || db.DB == nil {
		return nil, &ReadError{Table: "coordinates", Err: errDatabaseUnavailable}
	}
	d, err := dialectFor(db.Driver)
	if err != nil {
		return nil, &ReadError{Table: "coordinates", Err: err}
	}

	var out []CoordinateRow
	err = db.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, d.selectCoordinates)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var row CoordinateRow
			if err := rows.Scan(&row.Lat, &row.Lon, &row.Airport); err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, &ReadError{Table: "coordinates", Err: err}
	}
	return out, nil
}

// withConn checks out one pooled connection for fn and always returns it.
func (db *Database) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := db.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", StepAcquire, err)
	}
	defer conn.Close()
	return fn(conn)
}
