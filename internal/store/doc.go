// Package store provides SQLite-backed storage for table resources.
//
// Every table carries an integer "id" primary key. Column types are
// recorded in a catalog table so values read back keep their declared
// type: booleans come back as bool and json columns are decoded.
//
// # Deterministic Results
//
// Find compiles query options with querysql, so every SELECT ends with
// ORDER BY ... "id" ASC COLLATE BINARY and values are always bound
// parameters.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
