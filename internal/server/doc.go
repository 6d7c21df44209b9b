// Package server hosts the Fiber HTTP service, the request-id middleware and
// the shared upstream http.Client. The fetch handler is injected through the
// FetchHandler interface so that the proxy package (and tests) can supply
// their own implementation; diagnostics routes live under /-/ and are
// registered by the routes subpackage.
package server
