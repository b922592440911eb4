package ntlm

import (
	"fmt"
	"net/http"
	"sync"

	ews "github.com/smnsjas/go-ews"
)

// State is the position of a Handshake in the exchange.
type State int

const (
	// StateIdle is a handshake that has not sent its negotiate message.
	StateIdle State = iota
	// StateNegotiating has sent NEGOTIATE and awaits the challenge.
	StateNegotiating
	// StateChallengeReceived has sent AUTHENTICATE and awaits the verdict.
	StateChallengeReceived
	// StateAuthenticated is terminal.
	StateAuthenticated
	// StateFailed is terminal.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateChallengeReceived:
		return "challenge-received"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handshake drives one NTLM exchange. It is safe for concurrent use but a
// handshake only makes sense on a single connection.
type Handshake struct {
	creds  Credentials
	strict bool

	mu        sync.Mutex
	state     State
	challenge *Challenge
}

// NewHandshake returns an idle handshake. In strict mode a response to the
// negotiate message that carries no challenge is a protocol error even when
// the server did not answer 401.
func NewHandshake(creds Credentials, strict bool) *Handshake {
	return &Handshake{creds: creds, strict: strict}
}

// State returns the current state.
func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Challenge returns the parsed server challenge, or nil before one arrived.
func (h *Handshake) Challenge() *Challenge {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.challenge
}

// Begin returns the Authorization header value for the first request.
func (h *Handshake) Begin() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateIdle {
		return "", ews.Errorf(ews.KindProtocol, "ntlm: begin",
			fmt.Sprintf("handshake already %s", h.state))
	}
	msg, err := NewNegotiateMessage(h.creds)
	if err != nil {
		h.state = StateFailed
		return "", err
	}
	h.state = StateNegotiating
	return encodeHeader(msg), nil
}

// Respond consumes the server's answer to the last message sent. It returns
// the next Authorization header value, or "" when the exchange is over.
func (h *Handshake) Respond(status int, header http.Header) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateNegotiating:
		return h.respondToNegotiate(status, header)
	case StateChallengeReceived:
		if status == http.StatusUnauthorized {
			h.state = StateFailed
			return "", ews.Errorf(ews.KindUnauthorized, "ntlm: authenticate",
				"credentials rejected by server")
		}
		h.state = StateAuthenticated
		return "", nil
	default:
		return "", ews.Errorf(ews.KindProtocol, "ntlm: respond",
			fmt.Sprintf("unexpected response in state %s", h.state))
	}
}

func (h *Handshake) respondToNegotiate(status int, header http.Header) (string, error) {
	value, ok := ChallengeFromHeader(header)
	if !ok {
		if status == http.StatusUnauthorized || h.strict {
			h.state = StateFailed
			return "", ews.Errorf(ews.KindProtocol, "ntlm: negotiate",
				fmt.Sprintf("status %d without NTLM challenge", status))
		}
		// Server accepted the request without asking for credentials.
		h.state = StateAuthenticated
		return "", nil
	}

	ch, err := ParseChallenge(value)
	if err != nil {
		h.state = StateFailed
		return "", err
	}
	msg, err := NewAuthenticateMessage(ch, h.creds)
	if err != nil {
		h.state = StateFailed
		return "", err
	}
	h.challenge = ch
	h.state = StateChallengeReceived
	return encodeHeader(msg), nil
}
