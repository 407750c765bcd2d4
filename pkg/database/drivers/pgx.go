package drivers

import (
	// Registers "pgx" for PostgreSQL deployments shared by many instances.
	_ "github.com/jackc/pgx/v5/stdlib"
)
