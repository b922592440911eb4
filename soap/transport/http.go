package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	ews "github.com/smnsjas/go-ews"
)

const (
	// ContentTypeSOAP is the content type for SOAP 1.1 messages.
	ContentTypeSOAP = "text/xml; charset=utf-8"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// defaultBufferSize is the initial size for pooled buffers.
	defaultBufferSize = 32 * 1024 // 32KB

	// maxExchanges bounds the physical round trips of one logical call.
	maxExchanges = 4

	// errorPreviewLen caps the response body quoted in errors.
	errorPreviewLen = 3000
)

// bufferPool is a pool of reusable bytes.Buffer to reduce allocations.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, defaultBufferSize))
	},
}

// readAllPooled reads from r using a pooled buffer and returns a copy of the data.
func readAllPooled(r io.Reader) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}

	// Return a copy since buf will be reused
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// Request is one logical call. Body is replayed on every physical exchange.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the final response of a logical call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Exchanges is the number of physical round trips the call took.
	Exchanges int
}

// Preview returns the start of the body for error messages.
func (r *Response) Preview() string {
	s := string(r.Body)
	if len(s) > errorPreviewLen {
		s = s[:errorPreviewLen] + "..."
	}
	return s
}

// Client performs HTTP calls on behalf of an authentication session.
type Client struct {
	client  *http.Client
	metrics *Metrics
	logger  *slog.Logger

	// warnings raised while applying options, logged once the logger is known
	warnings []func(*slog.Logger)
}

// Option configures a Client.
type Option func(*Client)

// New creates a new Client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		client: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					// TLS 1.2 for older Exchange front ends
					MinVersion: tls.VersionTLS12,
				},
				// NTLM requires persistent connections for the handshake
				DisableKeepAlives:   false,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	for _, warn := range c.warnings {
		warn(c.logger)
	}
	c.warnings = nil

	return c
}

// WithLogger sets the logger for option warnings. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTimeout sets the HTTP client timeout. Zero disables it and leaves
// deadlines to the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithInsecureSkipVerify configures TLS to skip certificate verification.
// WARNING: Only use this for testing. Never use in production.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		if skip {
			c.warnings = append(c.warnings, func(l *slog.Logger) {
				l.Warn("TLS certificate verification disabled, only use this for testing")
			})
		}
		tr := c.ensureHTTPTransport()
		if tr.TLSClientConfig == nil {
			tr.TLSClientConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
		tr.TLSClientConfig.InsecureSkipVerify = skip
	}
}

// WithTLSConfig sets a custom TLS configuration.
// NOTE: MinVersion is enforced to be at least TLS 1.2.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		tr := c.ensureHTTPTransport()
		if cfg.MinVersion < tls.VersionTLS12 {
			cfg.MinVersion = tls.VersionTLS12
		}
		tr.TLSClientConfig = cfg
	}
}

// WithProxy sets the proxy URL. "direct" disables proxying and an empty
// string keeps the environment defaults.
func WithProxy(proxyURL string) Option {
	return func(c *Client) {
		tr := c.ensureHTTPTransport()
		switch proxyURL {
		case "":
			tr.Proxy = http.ProxyFromEnvironment
		case "direct":
			tr.Proxy = nil
		default:
			u, err := url.Parse(proxyURL)
			if err != nil {
				c.warnings = append(c.warnings, func(l *slog.Logger) {
					l.Warn("ignoring invalid proxy URL", "proxy", proxyURL, "error", err)
				})
				return
			}
			tr.Proxy = http.ProxyURL(u)
		}
	}
}

// WithRoundTripper replaces the underlying transport. Pinned sessions only
// get a dedicated connection when rt is an *http.Transport.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.client.Transport = rt
	}
}

// WithMetrics records exchanges and calls in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// ensureHTTPTransport ensures the client has an *http.Transport.
func (c *Client) ensureHTTPTransport() *http.Transport {
	tr, ok := c.client.Transport.(*http.Transport)
	if !ok {
		tr = &http.Transport{Proxy: http.ProxyFromEnvironment}
		c.client.Transport = tr
	}
	return tr
}

// HTTPClient returns the underlying HTTP client for advanced configuration.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// CloseIdleConnections closes any idle connections in the shared transport.
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

// Send performs one logical call. The session decorates each physical
// request and decides from each response whether another exchange is needed.
// A nil session sends the request unauthenticated.
//
// The returned response may carry any status; only transport failures and
// session verdicts are reported as errors.
func (c *Client) Send(ctx context.Context, req Request, s Session) (resp *Response, err error) {
	if s == nil {
		s = anonymous{}
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	hc := c.client
	if s.Pinned() {
		var release func()
		hc, release = c.pinnedClient()
		defer release()
	}

	defer func() { c.metrics.observeCall(err) }()

	for n := 1; ; n++ {
		if n > maxExchanges {
			return nil, ews.Errorf(ews.KindProtocol, "transport: send",
				fmt.Sprintf("no final response after %d exchanges", maxExchanges))
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader(req.Body))
		if err != nil {
			return nil, ews.E(ews.KindConfig, "transport: create request", err)
		}
		for k, vs := range req.Header {
			httpReq.Header[k] = append([]string(nil), vs...)
		}
		if err := s.Attach(httpReq); err != nil {
			return nil, err
		}

		start := time.Now()
		httpResp, err := hc.Do(httpReq)
		if err != nil {
			return nil, ews.E(ews.KindNetwork, "transport: request failed", err)
		}
		c.metrics.observeExchange(req.Method, httpResp.StatusCode, time.Since(start))

		retry, err := s.Inspect(httpResp)
		if err != nil || retry {
			// Drain so the connection goes back to the pool for the next leg.
			_, _ = io.Copy(io.Discard, httpResp.Body)
			httpResp.Body.Close()
			if err != nil {
				return nil, err
			}
			continue
		}

		body, err := readAllPooled(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			return nil, ews.E(ews.KindNetwork, "transport: read response", err)
		}
		return &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       body,
			Exchanges:  n,
		}, nil
	}
}

// pinnedClient returns a client whose transport keeps at most one connection
// to each host, so every leg of a handshake rides the same connection.
func (c *Client) pinnedClient() (*http.Client, func()) {
	base, ok := c.client.Transport.(*http.Transport)
	if !ok {
		return c.client, func() {}
	}
	tr := base.Clone()
	tr.DisableKeepAlives = false
	tr.MaxConnsPerHost = 1
	tr.MaxIdleConnsPerHost = 1
	hc := &http.Client{
		Transport:     tr,
		Timeout:       c.client.Timeout,
		CheckRedirect: c.client.CheckRedirect,
		Jar:           c.client.Jar,
	}
	return hc, tr.CloseIdleConnections
}

func bodyReader(b []byte) io.Reader {
	if b == nil {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

// HTTPError is the cause of errors built by StatusError.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return "authentication failed (401 Unauthorized)"
	case http.StatusForbidden:
		return "access denied (403 Forbidden)"
	}
	return "HTTP " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}

// StatusError classifies a final response status. 401 is an authentication
// failure and any other status at or above 400 is a remote error.
func StatusError(op string, resp *Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ews.E(ews.KindUnauthorized, op, &HTTPError{StatusCode: resp.StatusCode})
	case resp.StatusCode >= 400:
		return ews.E(ews.KindRemote, op, &HTTPError{StatusCode: resp.StatusCode, Body: resp.Preview()})
	}
	return nil
}
