// Package client provides a high-level API for calling Exchange Web
// Services operations.
//
// This is the recommended entry point for most users. It handles:
//   - Downloading and repairing the service description
//   - Building the operation registry
//   - Authenticated SOAP calls with optional throttling and retries
//
// # Quick Start
//
//	c, err := client.New(client.Config{
//	    Host:     "https://mail.example.com",
//	    Username: "alice",
//	    Domain:   "CORP",
//	    Password: "password",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	res, err := c.Run(ctx, "GetFolder", map[string]any{
//	    "FolderShape": map[string]any{"BaseShape": "Default"},
//	    "FolderIds": map[string]any{
//	        "DistinguishedFolderId": map[string]any{
//	            "attributes": map[string]any{"Id": "inbox"},
//	        },
//	    },
//	}, nil)
package client
