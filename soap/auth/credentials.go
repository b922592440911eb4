package auth

import (
	"errors"
	"log/slog"

	"github.com/smnsjas/go-ews/ntlm"
)

// Credentials is one of NTLMCredentials, BasicCredentials or BearerCredentials.
type Credentials interface {
	// Validate checks that required credential fields are populated.
	Validate() error

	kind() Kind
}

// NTLMCredentials authenticate with NTLM, using either a password or a
// precomputed NT/LM hash pair.
type NTLMCredentials struct {
	// Username is the user name, optionally as DOMAIN\user or user@domain.
	Username string

	// Domain is the optional NetBIOS domain.
	Domain string

	// Workstation is the client name announced during negotiation.
	Workstation string

	// Password is the plaintext password.
	Password string

	// NTHash and LMHash replace Password. Both must be 16 bytes.
	NTHash []byte
	LMHash []byte
}

// Validate checks that required credential fields are populated.
func (c NTLMCredentials) Validate() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Password == "" {
		if len(c.NTHash) == 0 || len(c.LMHash) == 0 {
			return errors.New("password or NT and LM hash pair is required")
		}
	}
	return c.handshakeCredentials().Validate()
}

// LogValue implements slog.LogValuer so secrets never reach log output.
func (c NTLMCredentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("domain", c.Domain),
		slog.String("workstation", c.Workstation),
		slog.String("password", redacted(c.Password != "")),
		slog.String("nt_hash", redacted(len(c.NTHash) > 0)),
		slog.String("lm_hash", redacted(len(c.LMHash) > 0)),
	)
}

func (c NTLMCredentials) kind() Kind { return KindNTLM }

func (c NTLMCredentials) handshakeCredentials() ntlm.Credentials {
	return ntlm.Credentials{
		Username:    c.Username,
		Domain:      c.Domain,
		Workstation: c.Workstation,
		Password:    c.Password,
		NTHash:      c.NTHash,
		LMHash:      c.LMHash,
	}
}

// BasicCredentials authenticate with HTTP Basic.
type BasicCredentials struct {
	// Username is the user name for authentication.
	Username string

	// Password is the password for authentication.
	Password string
}

// Validate checks that required credential fields are populated.
func (c BasicCredentials) Validate() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// LogValue implements slog.LogValuer so secrets never reach log output.
func (c BasicCredentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("password", redacted(c.Password != "")),
	)
}

func (c BasicCredentials) kind() Kind { return KindBasic }

// BearerCredentials authenticate with an OAuth access token.
type BearerCredentials struct {
	Token string
}

// Validate checks that the token is present.
func (c BearerCredentials) Validate() error {
	if c.Token == "" {
		return errors.New("token is required")
	}
	return nil
}

// LogValue implements slog.LogValuer so secrets never reach log output.
func (c BearerCredentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("token", redacted(c.Token != "")))
}

func (c BearerCredentials) kind() Kind { return KindBearer }

func redacted(set bool) string {
	if set {
		return "[REDACTED]"
	}
	return ""
}
