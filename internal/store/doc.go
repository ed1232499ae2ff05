// Package store defines the database access abstraction and the generic
// persistence errors shared by storage implementations.
package store
