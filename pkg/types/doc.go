/*
Package types defines the worker's shared domain model (envelopes, matches,
documents, notifications, users and subscriptions) plus the tagged error
taxonomy the ingestion controller switches on for its ack/nack/DLQ decision.

Documents stay loose maps because upstream scrapers disagree on fields;
everything else is typed. A Notification is immutable once written except
for status flips and the email_sent flag.
*/
package types
