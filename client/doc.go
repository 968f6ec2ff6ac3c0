// Package client is the Go SDK for the tavolo authentication service.
//
// A Session holds the access token in memory and carries the refresh
// credential in an HTTP cookie jar. Outbound requests made through
// Session.Do attach the bearer token; when an authenticated request
// comes back 401 the session refreshes the token pair exactly once and
// retries the original request. Concurrent failures share a single
// in-flight refresh, so a rotated refresh token is never presented
// twice.
//
// Multiple Sessions in the same process can share a Bus: login and
// logout on one session propagate to the siblings without extra
// network calls. A Storage implementation bound to the Bus mirrors the
// session state so a Session created later can recover it.
package client
