// Package database provides the SQLite connection behind the gateway's
// state history.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Versioned schema migrations read from an fs.FS
//   - Connection lifecycle and health checks
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional .down.sql. New columns must be NULLABLE or carry a DEFAULT.
package database
