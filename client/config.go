package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	ews "github.com/smnsjas/go-ews"
	"github.com/smnsjas/go-ews/ntlm"
	"github.com/smnsjas/go-ews/soap/auth"
)

// Config holds configuration for an EWS client. The yaml tags are used by
// the ews-client configuration file.
type Config struct {
	// Host is the base URL of the Exchange server, e.g.
	// "https://mail.example.com". A host without a scheme gets https.
	Host string `yaml:"host"`

	// AuthKind is "ntlm", "basic" or "bearer". Empty means ntlm.
	AuthKind string `yaml:"auth,omitempty"`

	// Username for ntlm and basic authentication.
	Username string `yaml:"username,omitempty"`

	// Password for ntlm and basic authentication.
	Password string `yaml:"password,omitempty"`

	// NTHash and LMHash are hex-encoded hashes that replace Password for
	// ntlm. Both must be set.
	NTHash string `yaml:"nt_hash,omitempty"`
	LMHash string `yaml:"lm_hash,omitempty"`

	// Token is the OAuth access token for bearer authentication.
	Token string `yaml:"token,omitempty"`

	// Domain and Workstation are announced during NTLM negotiation.
	Domain      string `yaml:"domain,omitempty"`
	Workstation string `yaml:"workstation,omitempty"`

	// CacheDir holds the downloaded service documents. When empty or
	// unusable a temporary directory is used.
	CacheDir string `yaml:"cache_dir,omitempty"`

	// Strict makes a negotiate response without an NTLM challenge a
	// protocol error even when the server did not answer 401.
	Strict bool `yaml:"strict,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification.
	// WARNING: Only use for testing.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`

	// Timeout bounds each HTTP call. Zero uses the transport default.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Proxy is a proxy URL, "direct" to bypass proxies, or empty to use
	// the environment.
	Proxy string `yaml:"proxy,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AuthKind: auth.KindNTLM.String(),
		Timeout:  60 * time.Second,
	}
}

// Validate checks that the configuration is complete for the selected
// authentication kind. Errors have kind ews.KindConfig.
func (c *Config) Validate() error {
	if _, err := c.baseURL(); err != nil {
		return err
	}
	if _, err := c.credentials(); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return ews.Errorf(ews.KindConfig, "config", "timeout must not be negative")
	}
	return nil
}

// LogValue implements slog.LogValuer so secrets never reach log output.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", c.Host),
		slog.String("auth", c.AuthKind),
		slog.String("username", c.Username),
		slog.String("domain", c.Domain),
		slog.String("password", redact(c.Password)),
		slog.String("nt_hash", redact(c.NTHash)),
		slog.String("lm_hash", redact(c.LMHash)),
		slog.String("token", redact(c.Token)),
		slog.String("cache_dir", c.CacheDir),
		slog.Bool("strict", c.Strict),
		slog.Bool("insecure_skip_verify", c.InsecureSkipVerify),
		slog.Duration("timeout", c.Timeout),
	)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// baseURL returns Host with a scheme and without a trailing slash.
func (c *Config) baseURL() (string, error) {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return "", ews.Errorf(ews.KindConfig, "config", "host is required")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", ews.E(ews.KindConfig, "config: host", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ews.Errorf(ews.KindConfig, "config", fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return "", ews.Errorf(ews.KindConfig, "config", "host is required")
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// credentials builds the credentials of the selected authentication kind.
func (c *Config) credentials() (auth.Credentials, error) {
	kind, err := auth.ParseKind(c.AuthKind)
	if err != nil {
		return nil, ews.E(ews.KindConfig, "config", err)
	}

	var creds auth.Credentials
	switch kind {
	case auth.KindNTLM:
		nc := auth.NTLMCredentials{
			Username:    c.Username,
			Domain:      c.Domain,
			Workstation: c.Workstation,
			Password:    c.Password,
		}
		if c.Password == "" && (c.NTHash != "" || c.LMHash != "") {
			if nc.NTHash, err = parseHash("nt_hash", c.NTHash); err != nil {
				return nil, err
			}
			if nc.LMHash, err = parseHash("lm_hash", c.LMHash); err != nil {
				return nil, err
			}
		}
		creds = nc
	case auth.KindBasic:
		creds = auth.BasicCredentials{Username: c.Username, Password: c.Password}
	case auth.KindBearer:
		creds = auth.BearerCredentials{Token: c.Token}
	}

	if err := creds.Validate(); err != nil {
		return nil, ews.E(ews.KindConfig, "config: "+kind.String(), err)
	}
	return creds, nil
}

func parseHash(field, s string) ([]byte, error) {
	if s == "" {
		return nil, ews.E(ews.KindConfig, "config", errors.New(field+" is required with a hash pair"))
	}
	b, err := ntlm.ParseHash(s)
	if err != nil {
		return nil, ews.E(ews.KindConfig, "config: "+field, err)
	}
	return b, nil
}
