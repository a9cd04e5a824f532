/*
Package status tracks the worker's degraded-mode state: three independent
sub-states (database, broker, subscription), a bounded ring of the last five
errors per category, and a derived overall mode.

The mode is computed on every read, never cached:

	ok        all three sub-states up
	failed    all three down
	degraded  anything in between

The monitor is observational only. It consumes lifecycle events from the
events bus and is read by the health endpoints; the ingestion path never
branches on it.
*/
package status
