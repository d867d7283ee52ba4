// Package logging provides file-based structured logging with rotation for
// Corpora. Logs are written as JSON lines to ~/.corpora/logs/ and optionally
// mirrored to stderr. Every subsystem logs with a "component" attribute so
// the enrichment pipeline, retrieval channels, and breakers can be filtered
// independently.
package logging
