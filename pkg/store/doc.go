/*
Package store provides the worker's Postgres persistence on a pgx connection
pool.

Every statement touching an RLS-guarded table runs inside a transaction that
first sets the app.current_user_id session parameter with is_local=true, so
the policy context is scoped to that transaction and never leaks across
pooled connections.

Single-row INSERTs retry transient connection failures (refused or dropped
connections, 57P01/57P03 server shutdown codes, timeouts) up to three
times with 100ms/200ms/400ms backoff, four attempts in all. All other errors fail fast and are
reported per row; a batch never aborts because one row failed.

User and subscription rows are read-only lookups here; the worker does not
own them.
*/
package store
