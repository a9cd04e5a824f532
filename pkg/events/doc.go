/*
Package events provides an in-memory event broker for the worker's internal
pub/sub messaging.

The ingestion controller publishes lifecycle events (message received,
processed, failed, dead-lettered; database, broker and subscription state
changes) without knowing who listens. Subscribers receive events on buffered
channels; a slow subscriber is skipped rather than blocking the publisher,
so the ingestion path can never stall on observability.

The status monitor is the primary subscriber and derives the service mode
from these events.
*/
package events
