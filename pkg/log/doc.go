/*
Package log provides structured logging for the worker on zerolog.

Init configures the global logger once at startup: console output for
development, JSON in production. Components take child loggers via
WithComponent; message-scoped logging attaches the correlation ids with
WithTraceID and WithUserID so every line of one message's processing can be
stitched together.
*/
package log
