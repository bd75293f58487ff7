// Package repository provides a generic, session-bound repository built on
// Bun: field-map CRUD, equality filters, pagination, get-or-create and
// update-or-create with conflict retry, bulk creation, and eager loading of
// named relations with batch, join, or subquery strategies.
package repository
