// Package cache implements the disk-backed HTTP cache used by the fetcher.
// Every URL is mapped to <root>/<scheme>/<host[_PORTport]>/<sha256> where the
// digest covers the path and query (never the fragment). The content file sits
// next to a <sha256>.headers.json sidecar holding the response headers as a flat
// JSON object. The store only persists and loads entries; freshness, ETag
// revalidation and eviction belong to the callers.
package cache
