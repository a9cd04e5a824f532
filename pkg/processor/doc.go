/*
Package processor holds the per-tag document processors and their registry.

A processor is a plain value implementing the Processor interface: it
validates and coerces the documents of one envelope against its schema, then
builds the candidate notification records. New processors register at
startup; the registry is immutable afterwards.

# Document coercion

All processors share the same coercion rules: missing links default (or the
document is skipped), summaries default and truncate to 200 characters, and
title and notification_title fill each other when one side is missing.

# Title selection

The stored title is picked deterministically:

 1. notification_title, when longer than three characters, not the literal
    "string" and not containing "notification"
 2. title, under the same three tests
 3. document_type, optionally suffixed with " de <issuing_body>" and
    " (<publication_date>)"
 4. `Alerta <tag>: "<prompt prefix>"`

The result never exceeds 80 characters; longer titles truncate to 77 plus an
ellipsis. The entity type is always <tag>:<document_type|document> in
lowercase.
*/
package processor
