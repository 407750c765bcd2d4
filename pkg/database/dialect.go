package database

import "fmt"

// schemaStatement is one idempotent DDL statement and the table it defines.
type schemaStatement struct {
	table string
	sql   string
}

// dialect holds every statement the visit store issues, rendered once for
// a driver so the hot path never formats SQL.
type dialect struct {
	schema []schemaStatement
	// schemaLockKey, when non-zero, serializes DDL through a PostgreSQL
	// transaction-scoped advisory lock.
	schemaLockKey int64

	insertCounter     string
	incrementCounter  string
	insertCoordinate  string
	selectCounters    string
	selectCoordinates string

	// valueColumn is the counter column as the engine must see it; genji
	// reserves VALUE as a keyword.
	valueColumn string

	// reportsRows is true when RowsAffected is trustworthy for UPDATE.
	reportsRows bool
}

// visitSchemaLockKey is an arbitrary constant shared by every process that
// creates the visit tables ("visi" in ASCII).
const visitSchemaLockKey int64 = 0x76697369

// dialectFor renders the visit statements for a normalized driver name.
func dialectFor(driver string) (dialect, error) {
	d := dialect{valueColumn: "value"}

	switch driver {
	case "sqlite", "chai":
		// WITHOUT ROWID: the natural key is the storage key.
		d.schema = []schemaStatement{
			{table: "counter", sql: `CREATE TABLE IF NOT EXISTS counter (
  country TEXT    NOT NULL,
  city    TEXT    NOT NULL,
  value   INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (country, city)
) WITHOUT ROWID`},
			{table: "coordinates", sql: `CREATE TABLE IF NOT EXISTS coordinates (
  lat     REAL NOT NULL,
  lon     REAL NOT NULL,
  airport TEXT NOT NULL,
  PRIMARY KEY (lat, lon)
) WITHOUT ROWID`},
		}
		d.reportsRows = true

	case "pgx":
		d.schema = []schemaStatement{
			{table: "counter", sql: `CREATE TABLE IF NOT EXISTS counter (
  country TEXT   NOT NULL,
  city    TEXT   NOT NULL,
  value   BIGINT NOT NULL DEFAULT 0 CHECK (value >= 0),
  PRIMARY KEY (country, city)
)`},
			{table: "coordinates", sql: `CREATE TABLE IF NOT EXISTS coordinates (
  lat     DOUBLE PRECISION NOT NULL,
  lon     DOUBLE PRECISION NOT NULL,
  airport TEXT             NOT NULL,
  PRIMARY KEY (lat, lon)
)`},
		}
		d.schemaLockKey = visitSchemaLockKey
		d.reportsRows = true

	case "duckdb":
		d.schema = []schemaStatement{
			{table: "counter", sql: `CREATE TABLE IF NOT EXISTS counter (
  country TEXT   NOT NULL,
  city    TEXT   NOT NULL,
  value   BIGINT NOT NULL DEFAULT 0,
  PRIMARY KEY (country, city)
)`},
			{table: "coordinates", sql: `CREATE TABLE IF NOT EXISTS coordinates (
  lat     DOUBLE NOT NULL,
  lon     DOUBLE NOT NULL,
  airport TEXT   NOT NULL,
  PRIMARY KEY (lat, lon)
)`},
		}

	case "genji":
		d.valueColumn = "`value`"
		d.schema = []schemaStatement{
			{table: "counter", sql: "CREATE TABLE IF NOT EXISTS counter (\n" +
				"  country TEXT    NOT NULL,\n" +
				"  city    TEXT    NOT NULL,\n" +
				"  `value` INTEGER NOT NULL DEFAULT 0,\n" +
				"  PRIMARY KEY (country, city)\n" +
				")"},
			{table: "coordinates", sql: `CREATE TABLE IF NOT EXISTS coordinates (
  lat     DOUBLE NOT NULL,
  lon     DOUBLE NOT NULL,
  airport TEXT   NOT NULL,
  PRIMARY KEY (lat, lon)
)`},
		}

	default:
		return dialect{}, fmt.Errorf("unsupported database type: %q", driver)
	}

	p1, p2, p3 := placeholder(driver, 1), placeholder(driver, 2), placeholder(driver, 3)
	col := d.valueColumn
	d.insertCounter = fmt.Sprintf(
		`INSERT INTO counter (country, city, %s) VALUES (%s, %s, 0) ON CONFLICT DO NOTHING`, col, p1, p2)
	d.incrementCounter = fmt.Sprintf(
		`UPDATE counter SET %s = %s + 1 WHERE country = %s AND city = %s`, col, col, p1, p2)
	d.insertCoordinate = fmt.Sprintf(
		`INSERT INTO coordinates (lat, lon, airport) VALUES (%s, %s, %s) ON CONFLICT DO NOTHING`, p1, p2, p3)
	d.selectCounters = fmt.Sprintf(`SELECT country, city, %s FROM counter`, col)
	d.selectCoordinates = `SELECT lat, lon, airport FROM coordinates`

	return d, nil
}
