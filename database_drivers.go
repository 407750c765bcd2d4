//go:build !test

// Production builds link every SQL driver. go test/go vet skip this file
// through the build tag so package tests only pull in the driver they use.
package main

import "airport-visit-map/pkg/database/drivers"

func init() {
	// Register the SQL backends before the database is opened.
	drivers.Ready()
}
