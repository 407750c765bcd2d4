//go:build dragonfly || ios || freebsd || darwin || (linux && ppc64) || (linux && ppc64le) || (linux && s390x) || (linux && amd64) || (linux && mips64) || (linux && mips64le) || (linux && arm64) || android || (windows && amd64) || (windows && arm64)

package drivers

import (
	// Registers "genji": an embedded document store with SQL, composite
	// primary keys and ON CONFLICT DO NOTHING.
	_ "github.com/genjidb/genji/driver"
)
