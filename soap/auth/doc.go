// Package auth provides authentication strategies for EWS connections.
//
// # Supported Authentication Methods
//
//   - NTLM: challenge-response over a pinned connection (package ntlm)
//   - Basic: HTTP Basic authentication (use only over TLS)
//   - Bearer: OAuth access token supplied by the caller
//
// A Strategy is chosen once from the credentials' type and never changes.
// Every logical call gets its own transport.Session from NewSession, so
// concurrent calls never share handshake state.
//
// # Usage
//
//	tr := transport.New()
//	strategy, err := auth.New(auth.NTLMCredentials{
//	    Username: "administrator",
//	    Password: "password",
//	    Domain:   "DOMAIN",
//	}, tr)
//
//	path, err := strategy.Fetch(ctx, "https://mail.example.com/ews/services.wsdl", "/tmp/services.wsdl")
package auth
