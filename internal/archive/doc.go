// Package archive defines the core types shared across the redarc pipeline:
// crawl requests and results, parsed issue records, the per-issue state
// machine, the error taxonomy, and the component interfaces the orchestrator
// is composed from.
package archive
