// Package dataset lands the pipeline's report artifacts on disk.
//
// Tabular market data goes out as CSV with a declared column contract;
// document-shaped artifacts (report snapshots, scoring summaries) go out as
// JSON. Every artifact lands through the persist layer, so writes are
// atomic, verified against the declared shape, and recoverable from backup.
package dataset
