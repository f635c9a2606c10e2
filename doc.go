// Package trainkit tracks running averages of training metrics.
//
// The core is the tracker: a fixed set of named metrics, each with a weighted
// total, a count and the average derived from them. Every raw observation can
// also be forwarded to a sink such as a log, a JSON lines file, Prometheus or
// OpenTelemetry.
//
// On top of the tracker the module ships:
//   - a tracking server hosting one tracker per run over HTTP, with per-epoch
//     checkpoints stored in memory or in PostgreSQL
//   - a reporting client and a remote sink that batches observations
//   - helpers for training programs: YAML/JSON config documents, accelerator
//     selection, an endless batch loader and host resource samples
//   - a demo trainer command exercising all of the above
//
// Request bodies can be compressed with gzip and signed with HMAC SHA256.
// Both commands are configured with command-line flags and environment
// variables.
package trainkit
