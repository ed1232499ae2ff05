// Package postgres provides the PostgreSQL-backed task.ResultStore and the
// embedded schema migrations. Every state transition is a single conditional
// UPDATE guarded by the current state, so concurrent workers never need a lock.
package postgres
