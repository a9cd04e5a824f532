/*
Package ingest implements the notification worker's message pipeline: one
pub/sub delivery in, at most one persisted notification per matching document
out, and exactly one of ack or nack for every delivery.

# Architecture

The controller orchestrates the full per-message flow and owns the
acknowledgement decision:

	┌─────────────────── INGESTION CONTROLLER ───────────────────┐
	│                                                             │
	│  subscription ──▶ decode/normalize ──▶ processor registry   │
	│                        │                      │             │
	│                        ▼                      ▼             │
	│                   ParseError /          validate+transform  │
	│                   ValidationError             │             │
	│                        │                      ▼             │
	│                        ▼               ownership check      │
	│                    DLQ + ack                  │             │
	│                                               ▼             │
	│            per document, in order:                          │
	│              dedup gate ─▶ RLS insert ─▶ email/realtime     │
	│                                               │             │
	│                        ┌──────────────────────┤             │
	│                        ▼                      ▼             │
	│               transient failure          batch done         │
	│                     nack                     ack            │
	└─────────────────────────────────────────────────────────────┘

# Acknowledgement rules

  - Parse, schema and unknown-tag errors go to the dead-letter topic and the
    message acks; redelivery cannot fix a malformed payload.
  - Transient database failures nack so the broker redelivers.
  - A partial batch (some rows written, some failed) still acks; the failed
    rows are counted, never retried.
  - When even the dead-letter publish fails the message nacks instead, so
    the payload is not lost.

Within a message documents are processed sequentially and in envelope order,
which preserves per-user ordering on the realtime channel.

The controller publishes lifecycle events on the events bus; the status
monitor derives the service mode from them. The ingestion path itself never
reads the mode back, so a flaky health flag can never silently skip work.
*/
package ingest
