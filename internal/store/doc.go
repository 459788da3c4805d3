// Package store provides the SQLite-backed record store used by bots.
//
// Records live in a single table per bot (conventionally "ocdata") whose
// columns grow with the data: the table is created on first write, and any
// field not seen before becomes a new column. Key fields carry a UNIQUE
// index so writes are upserts.
//
// Alongside the record table the store keeps run_reports, one row per
// update cycle, created from the embedded schema.sql.
//
// # Conventions
//
//   - Select takes the query without its leading SELECT, with ? placeholders
//   - Columns are untyped so values keep their storage class
//   - Rows come back as record.Record with TEXT values as Go strings
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: SQLite has a single writer
package store
