/*
Package metrics defines the worker's prometheus metrics: message outcomes,
per-processor counts, notification creation and duplicate counters, email
and realtime publish counters, database retry and insert latency. All
metrics register in init() and are served through Handler on /metrics.
*/
package metrics
