// Package knowledge maintains the document knowledge base: sqlite-vec
// backed vector search with an FTS5 keyword fallback, document ingestion
// with content-hash change detection, and a filesystem watcher that marks
// the index dirty.
//
// Invariants:
// - Raw document text never leaves the store unchunked; retrieval returns
//   chunk-sized documents.
// - A missing embedding provider degrades search to keyword-only, it never
//   disables the store.
package knowledge
