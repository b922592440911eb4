package transport

import "net/http"

// Session carries the authentication state of one logical call.
//
// Attach is called before every physical request. Inspect is called with
// every response and reports whether the request must be sent again; it
// must not consume the body of a response it does not retry. A session is
// used for a single call and then discarded.
type Session interface {
	Attach(req *http.Request) error
	Inspect(resp *http.Response) (retry bool, err error)

	// Pinned reports whether all exchanges must share one connection.
	Pinned() bool
}

// anonymous sends requests without credentials.
type anonymous struct{}

func (anonymous) Attach(*http.Request) error           { return nil }
func (anonymous) Inspect(*http.Response) (bool, error) { return false, nil }
func (anonymous) Pinned() bool                         { return false }
