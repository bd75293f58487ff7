// Package uow coordinates repository operations inside a single transactional
// scope. A UnitOfWork either owns a session drawn from a pool factory or
// borrows one from the caller; leaving the scope without an explicit commit
// rolls every pending mutation back. Static composition binds typed
// repository fields at construction, DynamicUnitOfWork resolves them by name
// from a registry, and BackgroundUnitOfWork draws its sessions from the
// background pool.
package uow
