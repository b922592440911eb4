// Package ntlm implements the client side of the NTLM challenge-response
// handshake used by HTTP "WWW-Authenticate: NTLM".
//
// The package performs no I/O. A handshake is three messages exchanged over
// one persistent connection:
//
//  1. NEGOTIATE (type 1), sent by the client
//  2. CHALLENGE (type 2), returned by the server with a 401
//  3. AUTHENTICATE (type 3), sent by the client with the original request
//
// # Usage
//
//	hs := ntlm.NewHandshake(ntlm.Credentials{
//	    Username: "alice",
//	    Domain:   "CORP",
//	    Password: "password",
//	}, false)
//
//	auth, _ := hs.Begin()              // "NTLM TlRMTVNTUAABAAAA..."
//	// ... send the request with Authorization: auth, receive a 401 ...
//	auth, err := hs.Respond(resp.StatusCode, resp.Header)
//	// ... resend with Authorization: auth on the same connection ...
//	_, err = hs.Respond(resp.StatusCode, resp.Header)
//
// NTLMv2 responses are produced whenever the server supplies target
// information; older servers receive NTLMv1 responses. Authenticate messages
// are deterministic for a given challenge and set of credentials.
package ntlm
