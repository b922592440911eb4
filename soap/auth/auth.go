package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	ews "github.com/smnsjas/go-ews"
	"github.com/smnsjas/go-ews/soap/transport"
)

// Kind identifies an authentication scheme.
type Kind int

const (
	// KindNTLM is the NTLM challenge-response scheme.
	KindNTLM Kind = iota
	// KindBasic is HTTP Basic authentication.
	KindBasic
	// KindBearer is an OAuth bearer token.
	KindBearer
)

// String returns the lower-case scheme name used in configuration.
func (k Kind) String() string {
	switch k {
	case KindNTLM:
		return "ntlm"
	case KindBasic:
		return "basic"
	case KindBearer:
		return "bearer"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses a scheme name. The empty string selects NTLM.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ntlm":
		return KindNTLM, nil
	case "basic":
		return KindBasic, nil
	case "bearer":
		return KindBearer, nil
	default:
		return 0, fmt.Errorf("unsupported auth type %q (want ntlm, basic or bearer)", s)
	}
}

// Strategy authenticates calls for one scheme. Implementations are immutable
// after construction and safe for concurrent use.
type Strategy interface {
	// Name returns the authentication scheme name.
	Name() string

	// Kind returns the scheme.
	Kind() Kind

	// NewSession returns the state for one logical call.
	NewSession() transport.Session

	// Fetch downloads url to dest and returns dest.
	Fetch(ctx context.Context, url, dest string) (string, error)
}

// Option configures a Strategy.
type Option func(*options)

type options struct {
	logger *slog.Logger
	strict bool
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStrict makes NTLM treat a negotiate response without a challenge as a
// protocol error even when the server did not answer 401.
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// New returns the Strategy matching the credentials' type. A nil transport
// gets a default one.
func New(creds Credentials, tr *transport.Client, opts ...Option) (Strategy, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if tr == nil {
		tr = transport.New()
	}
	if creds == nil {
		return nil, ews.Errorf(ews.KindConfig, "auth", "credentials are required")
	}
	if err := creds.Validate(); err != nil {
		return nil, ews.E(ews.KindConfig, "auth: "+creds.kind().String(), err)
	}

	f := fetcher{tr: tr, logger: o.logger}
	switch c := creds.(type) {
	case NTLMCredentials:
		return &NTLMAuth{creds: c.handshakeCredentials(), strict: o.strict, fetcher: f}, nil
	case BasicCredentials:
		return &BasicAuth{creds: c, fetcher: f}, nil
	case BearerCredentials:
		return &BearerAuth{creds: c, fetcher: f}, nil
	default:
		return nil, ews.Errorf(ews.KindConfig, "auth", fmt.Sprintf("unsupported credentials %T", creds))
	}
}
