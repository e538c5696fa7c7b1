// Package ingest defines the domain model shared by every stage of the
// ingestion pipeline: listing items, records, discussion posts, error
// entries and the Source contract adapters implement.
package ingest
