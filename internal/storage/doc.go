// Package storage persists the reminder list.
//
// Every driver implements reminder.Backend: Load returns the whole list and
// Save replaces it. Drivers:
//   - "file": one JSON document, written to a temp file and renamed into place
//   - "sqlite": one row per reminder in a WAL-mode SQLite database
//   - "memory": in-process only (tests, dry runs)
package storage
