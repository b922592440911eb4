package ntlm

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"

	ews "github.com/smnsjas/go-ews"
)

func TestHandshake_FullExchange(t *testing.T) {
	hs := NewHandshake(testCreds, false)
	if hs.State() != StateIdle {
		t.Fatalf("initial State() = %v, want %v", hs.State(), StateIdle)
	}

	negotiate, err := hs.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if !strings.HasPrefix(negotiate, "NTLM ") {
		t.Errorf("Begin() = %q, want NTLM prefix", negotiate)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(negotiate, "NTLM "))
	if err != nil || string(raw[:8]) != "NTLMSSP\x00" {
		t.Errorf("Begin() token is not an NTLM message: %v", err)
	}

	challenge := buildChallenge(FlagUnicode|FlagNTLM|FlagTargetInfo, testServerChallenge, testServerName)
	authenticate, err := hs.Respond(http.StatusUnauthorized, challengeHeader(challenge))
	if err != nil {
		t.Fatalf("Respond(challenge) error = %v", err)
	}
	if !strings.HasPrefix(authenticate, "NTLM ") {
		t.Errorf("Respond(challenge) = %q, want NTLM prefix", authenticate)
	}
	if hs.State() != StateChallengeReceived {
		t.Errorf("State() = %v, want %v", hs.State(), StateChallengeReceived)
	}
	if hs.Challenge() == nil {
		t.Error("Challenge() = nil after challenge")
	}

	next, err := hs.Respond(http.StatusOK, http.Header{})
	if err != nil {
		t.Fatalf("Respond(200) error = %v", err)
	}
	if next != "" {
		t.Errorf("Respond(200) = %q, want empty", next)
	}
	if hs.State() != StateAuthenticated {
		t.Errorf("State() = %v, want %v", hs.State(), StateAuthenticated)
	}
}

func TestHandshake_Transitions(t *testing.T) {
	challenge := challengeHeader(buildChallenge(FlagUnicode|FlagTargetInfo, testServerChallenge, testServerName))
	garbled := http.Header{"Www-Authenticate": {"NTLM AAAA"}}

	tests := []struct {
		name      string
		strict    bool
		steps     []func(*Handshake) error
		wantState State
		wantKind  ews.Kind
	}{
		{
			name:      "401 without challenge",
			steps:     steps(begin, respond(http.StatusUnauthorized, http.Header{})),
			wantState: StateFailed,
			wantKind:  ews.KindProtocol,
		},
		{
			name:      "200 without challenge, lenient",
			steps:     steps(begin, respond(http.StatusOK, http.Header{})),
			wantState: StateAuthenticated,
		},
		{
			name:      "200 without challenge, strict",
			strict:    true,
			steps:     steps(begin, respond(http.StatusOK, http.Header{})),
			wantState: StateFailed,
			wantKind:  ews.KindProtocol,
		},
		{
			name:      "garbled challenge",
			steps:     steps(begin, respond(http.StatusUnauthorized, garbled)),
			wantState: StateFailed,
			wantKind:  ews.KindProtocol,
		},
		{
			name:      "credentials rejected",
			steps:     steps(begin, respond(http.StatusUnauthorized, challenge), respond(http.StatusUnauthorized, http.Header{})),
			wantState: StateFailed,
			wantKind:  ews.KindUnauthorized,
		},
		{
			name:      "non-401 after authenticate",
			steps:     steps(begin, respond(http.StatusUnauthorized, challenge), respond(http.StatusInternalServerError, http.Header{})),
			wantState: StateAuthenticated,
		},
		{
			name:      "begin twice",
			steps:     steps(begin, begin),
			wantState: StateNegotiating,
			wantKind:  ews.KindProtocol,
		},
		{
			name:      "respond before begin",
			steps:     steps(respond(http.StatusUnauthorized, challenge)),
			wantState: StateIdle,
			wantKind:  ews.KindProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHandshake(testCreds, tt.strict)
			var err error
			for _, step := range tt.steps {
				if err = step(hs); err != nil {
					break
				}
			}

			if tt.wantKind == ews.KindUnknown {
				if err != nil {
					t.Fatalf("unexpected error = %v", err)
				}
			} else if got := ews.KindOf(err); got != tt.wantKind {
				t.Fatalf("error kind = %v (%v), want %v", got, err, tt.wantKind)
			}
			if hs.State() != tt.wantState {
				t.Errorf("State() = %v, want %v", hs.State(), tt.wantState)
			}
		})
	}
}

func TestHandshake_RejectedIsUnauthorized(t *testing.T) {
	hs := NewHandshake(testCreds, false)
	if _, err := hs.Begin(); err != nil {
		t.Fatal(err)
	}
	challenge := challengeHeader(buildChallenge(FlagUnicode|FlagTargetInfo, testServerChallenge, testServerName))
	if _, err := hs.Respond(http.StatusUnauthorized, challenge); err != nil {
		t.Fatal(err)
	}
	_, err := hs.Respond(http.StatusUnauthorized, challenge)
	if !errors.Is(err, ews.ErrUnauthorized) {
		t.Errorf("Respond() error = %v, want unauthorized", err)
	}
}

func steps(s ...func(*Handshake) error) []func(*Handshake) error { return s }

func begin(hs *Handshake) error {
	_, err := hs.Begin()
	return err
}

func respond(status int, h http.Header) func(*Handshake) error {
	return func(hs *Handshake) error {
		_, err := hs.Respond(status, h)
		return err
	}
}
