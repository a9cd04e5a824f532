/*
Package config loads the worker configuration.

Precedence, lowest to highest: built-in defaults, an optional YAML file for
local runs, then the environment. The environment surface matches the
deployment contract (PORT, NODE_ENV, DB_*, GCP_PROJECT_ID,
PUBSUB_SUBSCRIPTION, the topic names, DEDUPLICATION_WINDOW_MINUTES,
LOG_LEVEL). Validation fails startup when the project id or subscription is
missing.
*/
package config
