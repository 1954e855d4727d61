// Package database provides SQLite connectivity for the Nest bridge.
//
// This package manages:
//   - Connection lifecycle (open, ping, close)
//   - WAL mode and busy timeout pragmas
//   - Schema migrations embedded in the binary
//
// # Schema
//
// The bridge persists two tables:
//
//   - custom_data: host-persisted key-value configuration (access token,
//     token expiry, profile version), the write-through target of the
//     session store
//   - nodes: the registry of discovered device nodes (address, vendor id,
//     category, name)
//
// # Usage
//
//	db, err := database.Open(database.Config{Path: "./data/nestbridge.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
