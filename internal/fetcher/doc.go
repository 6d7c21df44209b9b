// Package fetcher downloads remote resources through the disk cache. It owns
// every decision the cache deliberately leaves out: whether a cached copy may
// be served, ETag revalidation with If-None-Match, and bookkeeping for HTTP
// redirects (stored as entries whose metadata carries a "location" key).
package fetcher
