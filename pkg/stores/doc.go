// Package stores provides persistence layer implementations for Bizy.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and comprehensive CRUD operations for rules, executions, action
// results, and the event log.
package stores
