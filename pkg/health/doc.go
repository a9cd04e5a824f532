/*
Package health serves the worker's HTTP diagnostics surface.

Routes:

	GET /            identity (service name, version, environment)
	GET /health      liveness, always 200 while the process runs
	GET /ready       503 only when the service mode is failed
	GET /status      service mode, sub-states, error rings, message counters
	GET /metrics     prometheus exposition
	GET /diagnostics registered processors, topics, dedup window, pool stats

The listener only serves diagnostics; no ingestion traffic goes through it.
A degraded worker keeps answering /ready with 200 so the scheduler lets it
drain in-flight work.
*/
package health
