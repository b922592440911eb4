package auth

import (
	"context"

	"github.com/smnsjas/go-ews/soap/transport"
)

// BearerAuth sends an OAuth access token. The token is used as given; it
// is never refreshed.
type BearerAuth struct {
	creds BearerCredentials
	fetcher
}

// Name returns the authentication scheme name.
func (a *BearerAuth) Name() string {
	return "Bearer"
}

// Kind returns KindBearer.
func (a *BearerAuth) Kind() Kind {
	return KindBearer
}

// NewSession returns a session that sends the token on every request.
func (a *BearerAuth) NewSession() transport.Session {
	return &headerSession{value: "Bearer " + a.creds.Token}
}

// Fetch downloads url to dest.
func (a *BearerAuth) Fetch(ctx context.Context, url, dest string) (string, error) {
	return a.fetch(ctx, a.NewSession(), url, dest)
}
