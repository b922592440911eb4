// Package transport provides the HTTP/TLS transport for EWS calls.
//
// The transport layer handles:
//   - HTTP/HTTPS connections and TLS configuration
//   - Multi-leg authentication through a per-call Session
//   - Connection pinning for NTLM, whose handshake is bound to one connection
//   - Prometheus metrics for exchanges and calls
package transport
