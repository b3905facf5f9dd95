// Package database provides a GORM-based database component with connection
// pooling, health checks, transactions and migrations.
//
// The warehouse connectors and the run history store both sit on top of DB.
// SQLite is the default dialector; WithDriver swaps it:
//
//	comp := database.NewComponent(database.Config{Enabled: true, DSN: "warehouse.db"}, log)
//	if err := comp.Start(ctx); err != nil {
//	    return err
//	}
//	defer comp.Stop(ctx)
//
// Subpackages:
//
//   - migration: versioned SQL migrations using golang-migrate
//   - query: filter, sort and pagination helpers for listing records
package database
