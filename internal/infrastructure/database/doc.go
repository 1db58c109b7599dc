// Package database provides SQLite connectivity for the device's local state.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Applying schema migrations supplied as an fs.FS
//   - Transactions through WithTx
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files live in the top-level migrations directory and are named
// YYYYMMDD_HHMMSS_description.up.sql with an optional matching .down.sql.
// Migrations are additive: new columns must be nullable or have defaults.
package database
