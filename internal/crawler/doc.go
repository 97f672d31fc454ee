// Package crawler implements the crawl orchestrator: the idle/running/completed
// lifecycle, cached-snapshot reuse, paginated listing collection with
// de-duplication, and sequential per-product enrichment.
package crawler
