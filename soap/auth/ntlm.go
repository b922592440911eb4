package auth

import (
	"context"
	"net/http"

	"github.com/smnsjas/go-ews/ntlm"
	"github.com/smnsjas/go-ews/soap/transport"
)

// NTLMAuth implements NTLM authentication. Each call runs its own handshake
// on a dedicated connection.
type NTLMAuth struct {
	creds  ntlm.Credentials
	strict bool
	fetcher
}

// Name returns the authentication scheme name.
func (a *NTLMAuth) Name() string {
	return ntlm.Scheme
}

// Kind returns KindNTLM.
func (a *NTLMAuth) Kind() Kind {
	return KindNTLM
}

// NewSession starts a fresh handshake.
func (a *NTLMAuth) NewSession() transport.Session {
	return &ntlmSession{hs: ntlm.NewHandshake(a.creds, a.strict)}
}

// Fetch downloads url to dest.
func (a *NTLMAuth) Fetch(ctx context.Context, url, dest string) (string, error) {
	return a.fetch(ctx, a.NewSession(), url, dest)
}

// ntlmSession adapts ntlm.Handshake to transport.Session.
type ntlmSession struct {
	hs   *ntlm.Handshake
	next string
}

func (s *ntlmSession) Attach(req *http.Request) error {
	value := s.next
	s.next = ""
	if value == "" {
		var err error
		if value, err = s.hs.Begin(); err != nil {
			return err
		}
	}
	req.Header.Set("Authorization", value)
	return nil
}

func (s *ntlmSession) Inspect(resp *http.Response) (bool, error) {
	next, err := s.hs.Respond(resp.StatusCode, resp.Header)
	if err != nil {
		return false, err
	}
	if next == "" {
		return false, nil
	}
	s.next = next
	return true, nil
}

func (s *ntlmSession) Pinned() bool { return true }
