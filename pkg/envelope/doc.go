/*
Package envelope decodes and normalizes the pub/sub payloads emitted by the
upstream subscription processors.

Upstream services have historically emitted three different payload layouts,
so the normalizer probes for the matches array with a ladder of recovery
strategies, in order:

 1. results.matches (the current layout)
 2. results.results[0].matches (legacy location)
 3. every results.results[i].matches flattened, copying the per-result
    prompt onto each match
 4. results.results itself treated as the matches array
 5. a synthesized single match with the first prompt and no documents

Every recovery past the first logs a warning naming the strategy. Remove a
branch only with telemetry proving it has not fired for a full retention
window.

Correlation ids are probed across request.*, the envelope root and
context.*; a missing trace id is synthesized. Besides the processor tag
(processor_type, or the legacy source key), only user_id and subscription_id
are hard requirements; anything else missing degrades into defaults or an
empty match.

Normalization is a fixed point: running the normalizer over Canonical output
yields the same envelope again.
*/
package envelope
