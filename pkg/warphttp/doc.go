// Package warphttp is a configurable HTTP client built around Exchanges.
// An Exchange holds one request's options and its cached response. It can
// run on its own or as a member of a Scheduler, which drives many exchanges
// concurrently over a Multi.
//
// When an exchange has a cookie jar, redirects are followed hop by hop so
// that cookies set by intermediate responses reach the following hops.
// Otherwise the Transport follows them natively. The RedirectPolicy decides
// how each hop rewrites the request: POST demotion, referer and target
// resolution.
//
// Errors fall into three families re-exported from pkg/warperr:
// ConfigurationError, TransportError and PolicyViolation.
package warphttp
