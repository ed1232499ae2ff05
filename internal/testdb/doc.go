// Package testdb provides helpers for PostgreSQL integration tests.
//
// Tests that need a database call Open, which skips the test when no
// database URL is configured and applies the embedded migrations once per
// process. WithTx runs a test body inside a transaction that is always
// rolled back, so tests sharing the tasks table can run in parallel:
//
//	func TestSomething(t *testing.T) {
//	    t.Parallel()
//	    db := testdb.Open(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        s := postgres.NewTaskStore(tx)
//	        ...
//	    })
//	}
package testdb
