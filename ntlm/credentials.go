package ntlm

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Credentials holds the identity used to answer a challenge.
//
// Either Password or NTHash must be set. LMHash is only consulted when the
// server forces NTLMv1 without extended session security.
type Credentials struct {
	// Username is the account name. "DOMAIN\user" and "user@domain" forms
	// are split when Domain is empty.
	Username string

	// Domain is the NetBIOS domain of the account.
	Domain string

	// Workstation is the client machine name announced to the server.
	Workstation string

	// Password is the plaintext password.
	Password string

	// NTHash is the precomputed 16-byte NT hash, MD4(UTF-16LE(password)).
	NTHash []byte

	// LMHash is the precomputed 16-byte LM hash.
	LMHash []byte
}

// Validate checks that required credential fields are populated.
func (c Credentials) Validate() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Password == "" && len(c.NTHash) == 0 {
		return errors.New("password or NT hash is required")
	}
	if len(c.NTHash) != 0 && len(c.NTHash) != 16 {
		return fmt.Errorf("NT hash must be 16 bytes, got %d", len(c.NTHash))
	}
	if len(c.LMHash) != 0 && len(c.LMHash) != 16 {
		return fmt.Errorf("LM hash must be 16 bytes, got %d", len(c.LMHash))
	}
	return nil
}

// LogValue implements slog.LogValuer so secrets never reach log output.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("domain", c.Domain),
		slog.String("workstation", c.Workstation),
		slog.String("password", "[REDACTED]"),
	)
}

// ParseHash decodes a hex encoded 16-byte NT or LM hash.
func ParseHash(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode hash: %w", err)
	}
	if len(b) != 16 {
		return nil, fmt.Errorf("hash must be 16 bytes, got %d", len(b))
	}
	return b, nil
}

// identity returns the user and domain names to place in the messages.
func (c Credentials) identity() (user, domain string) {
	user, domain = c.Username, c.Domain
	if domain != "" {
		return user, domain
	}
	if i := strings.IndexByte(user, '\\'); i >= 0 {
		return user[i+1:], user[:i]
	}
	if i := strings.LastIndexByte(user, '@'); i >= 0 {
		return user[:i], user[i+1:]
	}
	return user, ""
}

// ntHash returns the NT hash, computing it from the password if needed.
func (c Credentials) ntHash() ([]byte, error) {
	if len(c.NTHash) == 16 {
		return c.NTHash, nil
	}
	if c.Password == "" {
		return nil, errors.New("no password or NT hash")
	}
	return ntowfv1(c.Password), nil
}

// lmHash returns the LM hash, or nil if it cannot be derived.
func (c Credentials) lmHash() []byte {
	if len(c.LMHash) == 16 {
		return c.LMHash
	}
	if c.Password == "" {
		return nil
	}
	return lmowfv1(c.Password)
}
