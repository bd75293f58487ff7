// Package database provides connection management for a primary and a
// background connection pool, transactional sessions with an explicit
// lifecycle state machine, table migrations, configuration types, logging,
// health checks, and a storage error taxonomy, all built on top of Bun.
package database
