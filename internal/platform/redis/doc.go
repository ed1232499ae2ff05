// Package redis implements task.Broker on Redis. Descriptors, leases and
// the dead-letter channel live under a single key prefix and every state
// change runs as a Lua script, so several API and worker processes can
// share one queue.
package redis
