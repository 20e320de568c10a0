package source

import (
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

// SupportedDrivers lists the database/sql drivers linked into the binary
var SupportedDrivers = []string{"sqlite3", "postgres", "pgx", "sqlserver", "mssql"}
