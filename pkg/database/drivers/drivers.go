// Package drivers registers the database/sql drivers the visit store can
// open. Only binaries import it, so go test of pkg/database stays light
// and picks its own driver.
package drivers

// Ready is a no-op that makes the import explicit at the call site.
func Ready() {}
