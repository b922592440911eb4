// Command ews-client calls Exchange Web Services operations from the command
// line.
//
// Usage:
//
//	ews-client --host mail.example.com --user alice --domain CORP init
//	ews-client --host mail.example.com --user alice operations
//	ews-client --host mail.example.com --user alice run GetFolder \
//	    --args '{"FolderShape":{"BaseShape":"Default"},"FolderIds":{"DistinguishedFolderId":{"attributes":{"Id":"inbox"}}}}'
//	ews-client convert request.xml
//
// The password is read from EWS_PASSWORD or prompted for; bearer tokens are
// read from EWS_TOKEN.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ews "github.com/smnsjas/go-ews"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to process exit codes.
func exitCode(err error) int {
	switch ews.KindOf(err) {
	case ews.KindConfig, ews.KindUnknownOperation:
		return 2
	case ews.KindUnauthorized:
		return 3
	case ews.KindRemote:
		return 4
	default:
		return 1
	}
}
