package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"

	ews "github.com/smnsjas/go-ews"
	"github.com/smnsjas/go-ews/soap/transport"
)

// BasicAuth implements HTTP Basic authentication.
type BasicAuth struct {
	creds    BasicCredentials
	warnOnce sync.Once
	fetcher
}

// Name returns the authentication scheme name.
func (a *BasicAuth) Name() string {
	return "Basic"
}

// Kind returns KindBasic.
func (a *BasicAuth) Kind() Kind {
	return KindBasic
}

// NewSession returns a session that sends the Basic header on every request.
func (a *BasicAuth) NewSession() transport.Session {
	// Build the basic auth value: base64(username:password)
	encoded := base64.StdEncoding.EncodeToString([]byte(a.creds.Username + ":" + a.creds.Password))
	return &headerSession{
		value: "Basic " + encoded,
		onAttach: func(req *http.Request) {
			// Warn if using Basic auth over non-HTTPS (credentials are easily readable)
			if req.URL.Scheme != "https" {
				a.warnOnce.Do(func() {
					a.logger.Warn("Basic authentication over non-HTTPS connection, credentials are not encrypted",
						"host", req.URL.Host)
				})
			}
		},
	}
}

// Fetch downloads url to dest.
func (a *BasicAuth) Fetch(ctx context.Context, url, dest string) (string, error) {
	return a.fetch(ctx, a.NewSession(), url, dest)
}

// headerSession sets a fixed Authorization header and fails on 401.
type headerSession struct {
	value    string
	onAttach func(*http.Request)
}

func (s *headerSession) Attach(req *http.Request) error {
	if s.onAttach != nil {
		s.onAttach(req)
	}
	req.Header.Set("Authorization", s.value)
	return nil
}

func (s *headerSession) Inspect(resp *http.Response) (bool, error) {
	if resp.StatusCode == http.StatusUnauthorized {
		return false, ews.Errorf(ews.KindUnauthorized, "auth", "authentication failed (401 Unauthorized)")
	}
	return false, nil
}

func (s *headerSession) Pinned() bool { return false }
