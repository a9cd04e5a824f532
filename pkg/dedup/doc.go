/*
Package dedup is the best-effort deduplication gate in front of the
notification writer.

A candidate is a duplicate when a notification with the same user, title,
source url and entity type (and the same metadata document id, when the
candidate carries one) was created within the sliding window, 24h by
default and configurable.

The check is non-transactional. A store failure answers "not a duplicate"
with a warning: under at-least-once delivery an occasional double write is
preferable to dropping a notification because dedup was unavailable.
*/
package dedup
