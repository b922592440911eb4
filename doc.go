// Package ews provides a client for Exchange Web Services (EWS) endpoints that
// require NTLM, Basic or Bearer authentication and publish a WSDL which does not
// conform to the WSDL standard.
//
// This package holds the error taxonomy shared by the subpackages:
//   - NTLM handshake codec and state machine (ntlm)
//   - HTTP transport with connection pinning (soap/transport)
//   - Authentication strategies (soap/auth)
//   - WSDL acquisition, repair and operation registry (wsdl)
//   - SOAP envelope and tree codec (soap)
//   - High-level client API (client)
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│  client/          Run(operation, args) convenience API  │
//	├─────────────────────────────────────────────────────────┤
//	│  wsdl/            Bootstrap, Repair, Registry           │
//	├─────────────────────────────────────────────────────────┤
//	│  soap/auth/       NTLM | Basic | Bearer strategies      │
//	├─────────────────────────────────────────────────────────┤
//	│  soap/transport/  HTTP exchanges, pinned connections    │
//	├─────────────────────────────────────────────────────────┤
//	│  ntlm/            Sans-IO NTLM messages                 │
//	└─────────────────────────────────────────────────────────┘
//
// # Quick Start
//
//	c, err := client.New(client.Config{
//	    Host:     "mail.example.com",
//	    Username: "alice",
//	    Password: "password",
//	    Domain:   "CORP",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := c.Run(ctx, "GetFolder", map[string]any{
//	    "FolderShape": map[string]any{"BaseShape": "Default"},
//	    "FolderIds": map[string]any{
//	        "DistinguishedFolderId": map[string]any{
//	            "attributes": map[string]any{"Id": "inbox"},
//	        },
//	    },
//	}, nil)
package ews
