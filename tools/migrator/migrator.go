package migrator

import (
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
)

// advisoryLockKey serializes concurrent migration runs on PostgreSQL
const advisoryLockKey = 7316524

// Run applies every pending migration found in fsys. driver selects the
// placeholder style and locking strategy; when empty it is detected from
// the server.
func Run(db *sql.DB, driver string, fsys fs.FS) error {
	if driver == "" {
		driver = detectDriver(db)
	}

	if err := createSchemaTable(db); err != nil {
		return fmt.Errorf("failed to create schema table: %w", err)
	}

	if err := acquireLock(db, driver); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer releaseLock(db, driver)

	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := AppliedVersions(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	pending, err := pendingMigrations(migrations, applied)
	if err != nil {
		return err
	}

	done := make(map[int]bool, len(applied)+len(pending))
	for _, v := range applied {
		done[v] = true
	}
	for _, m := range pending {
		for _, dep := range m.Dependencies {
			if !done[dep] {
				return fmt.Errorf("migration %d depends on version %d which has not been applied", m.Version, dep)
			}
		}
		if err := apply(db, driver, m); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
		done[m.Version] = true
	}
	return nil
}

// pendingMigrations returns the migrations not yet applied. History only
// moves forward: a pending migration older than the newest applied one
// is an error.
func pendingMigrations(migrations []Migration, applied []int) ([]Migration, error) {
	appliedSet := make(map[int]bool, len(applied))
	maxApplied := 0
	for _, v := range applied {
		appliedSet[v] = true
		if v > maxApplied {
			maxApplied = v
		}
	}

	var pending []Migration
	for _, m := range migrations {
		if appliedSet[m.Version] {
			continue
		}
		if m.Version < maxApplied {
			return nil, fmt.Errorf("cannot apply migration %d: version %d is already applied (migrations must be applied in order)", m.Version, maxApplied)
		}
		pending = append(pending, m)
	}
	return pending, nil
}

// CurrentVersion returns the highest applied version, or 0 when none
func CurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// AppliedVersions returns every applied version in ascending order
func AppliedVersions(db *sql.DB) ([]int, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		if isMissingTable(err) {
			return []int{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	versions := []int{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func isMissingTable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "doesn't exist") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "Invalid object name")
}

func createSchemaTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func apply(db *sql.DB, driver string, m Migration) error {
	record := "INSERT INTO schema_migrations (version) VALUES (" + placeholder(driver, 1) + ")"

	run := func(ex execer) error {
		if _, err := ex.Exec(m.UpSQL); err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}
		if _, err := ex.Exec(record, m.Version); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	}

	if m.NoTransaction {
		return run(db)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := run(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// placeholder returns the bind parameter syntax for the driver
func placeholder(driver string, n int) string {
	switch driver {
	case "postgres", "postgresql", "pgx":
		return fmt.Sprintf("$%d", n)
	default:
		return "?"
	}
}

func acquireLock(db *sql.DB, driver string) error {
	switch driver {
	case "postgres", "postgresql", "pgx":
		_, err := db.Exec(fmt.Sprintf("SELECT pg_advisory_lock(%d)", advisoryLockKey))
		return err
	default:
		// SQLite serializes writers with its file lock
		return nil
	}
}

func releaseLock(db *sql.DB, driver string) error {
	switch driver {
	case "postgres", "postgresql", "pgx":
		_, err := db.Exec(fmt.Sprintf("SELECT pg_advisory_unlock(%d)", advisoryLockKey))
		return err
	default:
		return nil
	}
}

// detectDriver guesses the server flavour since sql.DB hides the driver name
func detectDriver(db *sql.DB) string {
	var version string
	if err := db.QueryRow("SELECT sqlite_version()").Scan(&version); err == nil {
		return "sqlite3"
	}
	if err := db.QueryRow("SELECT version()").Scan(&version); err == nil &&
		strings.Contains(strings.ToLower(version), "postgresql") {
		return "postgres"
	}
	return "sqlite3"
}
