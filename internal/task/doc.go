// Package task implements the admission-controlled submission and execution
// pipeline: the Limiter bounds in-flight submissions, the Gateway records and
// dispatches tasks, a Broker carries descriptors to the WorkerPool, the
// RetryManager turns handler failures into retries or dead letters, and the
// Reconciler recovers records whose descriptors were lost.
//
// State lives in a ResultStore and moves monotonically from pending through
// running to a terminal state. Delivery is at-least-once; duplicate deliveries
// of a finished task are dropped by conditional writes, so handlers may run
// more than once but a task records exactly one outcome.
package task
