// Package database provides SQLite connectivity for HA Snapshot.
//
// This package manages:
//   - Database connection with WAL mode and a busy timeout
//   - Versioned schema migrations embedded in the binary
//   - Connection lifecycle and health checks
//
// All queries elsewhere in the module use parameterised statements and the
// database file is restricted to 0600.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns are NULLABLE or carry a DEFAULT, and
// each .up.sql has a matching .down.sql.
package database
