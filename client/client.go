package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	ews "github.com/smnsjas/go-ews"
	"github.com/smnsjas/go-ews/soap"
	"github.com/smnsjas/go-ews/soap/auth"
	"github.com/smnsjas/go-ews/soap/transport"
	"github.com/smnsjas/go-ews/wsdl"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	securityLogger *slog.Logger
	registerer     prometheus.Registerer
	roundTripper   http.RoundTripper
	tlsConfig      *tls.Config
	rateLimit      rate.Limit
	burst          int
	maxConcurrent  int
	maxQueue       int
	queueTimeout   time.Duration
	retry          *RetryPolicy
	breaker        *CircuitBreakerPolicy
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSecurityLogger enables structured security events on l.
func WithSecurityLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.securityLogger = l
	}
}

// WithMetrics registers transport and client collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithRoundTripper replaces the HTTP transport.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o *options) {
		o.roundTripper = rt
	}
}

// WithTLSConfig sets a custom TLS configuration.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = cfg
	}
}

// WithRateLimit throttles calls client-side to r per second with the given
// burst. Exchange applies per-user throttling budgets; staying under them
// avoids ErrorServerBusy faults.
func WithRateLimit(r float64, burst int) Option {
	return func(o *options) {
		o.rateLimit = rate.Limit(r)
		o.burst = burst
	}
}

// WithMaxConcurrent caps the number of calls in flight. Calls beyond the cap
// wait up to timeout in a queue of at most maxQueue (negative for unbounded).
func WithMaxConcurrent(max, maxQueue int, timeout time.Duration) Option {
	return func(o *options) {
		o.maxConcurrent = max
		o.maxQueue = maxQueue
		o.queueTimeout = timeout
	}
}

// WithRetryPolicy retries calls the server turned away. Nil disables retries.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(o *options) {
		o.retry = p
	}
}

// WithCircuitBreaker fails calls fast while the server keeps failing.
func WithCircuitBreaker(p *CircuitBreakerPolicy) Option {
	return func(o *options) {
		o.breaker = p
	}
}

// Client calls EWS operations on one server. It is safe for concurrent use.
type Client struct {
	config   Config
	host     string
	endpoint string
	logger   *slog.Logger
	security *SecurityLogger
	metrics  *Metrics

	transport *transport.Client
	strategy  auth.Strategy
	bootstrap *wsdl.Bootstrap

	limiter *rate.Limiter
	calls   *callLimiter
	retry   *RetryPolicy
	breaker *CircuitBreaker

	group singleflight.Group

	mu          sync.Mutex
	registry    *wsdl.Registry
	servicePath string
}

// New validates cfg and wires the transport, authentication strategy and
// bootstrap. It performs no I/O; configuration errors have kind
// ews.KindConfig.
func New(cfg Config, opts ...Option) (*Client, error) {
	o := options{logger: slog.Default(), maxQueue: -1}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	host, err := cfg.baseURL()
	if err != nil {
		return nil, err
	}
	creds, err := cfg.credentials()
	if err != nil {
		return nil, err
	}

	trOpts := []transport.Option{transport.WithLogger(o.logger)}
	if cfg.Timeout > 0 {
		trOpts = append(trOpts, transport.WithTimeout(cfg.Timeout))
	}
	if o.roundTripper != nil {
		trOpts = append(trOpts, transport.WithRoundTripper(o.roundTripper))
	}
	if cfg.Proxy != "" {
		trOpts = append(trOpts, transport.WithProxy(cfg.Proxy))
	}
	if o.tlsConfig != nil {
		trOpts = append(trOpts, transport.WithTLSConfig(o.tlsConfig))
	}
	if cfg.InsecureSkipVerify {
		trOpts = append(trOpts, transport.WithInsecureSkipVerify(true))
	}

	c := &Client{
		config:   cfg,
		host:     host,
		endpoint: wsdl.Endpoint(host),
		logger:   o.logger,
		retry:    o.retry,
		breaker:  NewCircuitBreaker(o.breaker),
	}
	if o.registerer != nil {
		trOpts = append(trOpts, transport.WithMetrics(transport.NewMetrics(o.registerer)))
		c.metrics = NewMetrics(o.registerer)
	}
	if o.securityLogger != nil {
		c.security = NewSecurityLogger(o.securityLogger, cfg.Username, host)
	}
	if o.rateLimit > 0 {
		burst := o.burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(o.rateLimit, burst)
	}
	if o.maxConcurrent > 0 {
		c.calls = newCallLimiter(o.maxConcurrent, o.maxQueue, o.queueTimeout)
	}

	c.transport = transport.New(trOpts...)
	c.strategy, err = auth.New(creds, c.transport,
		auth.WithLogger(o.logger),
		auth.WithStrict(cfg.Strict))
	if err != nil {
		return nil, err
	}
	c.bootstrap = wsdl.NewBootstrap(host, c.strategy,
		wsdl.WithCacheDir(cfg.CacheDir),
		wsdl.WithLogger(o.logger))

	return c, nil
}

// Endpoint returns the SOAP endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// CacheDir returns the directory holding the service documents. It is the
// configured directory until a bootstrap falls back to a temporary one.
func (c *Client) CacheDir() string {
	return c.bootstrap.Dir()
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// Init downloads and repairs the service documents and builds the operation
// registry. It returns the path of the repaired services.wsdl.
func (c *Client) Init(ctx context.Context) (string, error) {
	if _, err := c.prepare(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.servicePath, nil
}

// Operations returns the operation registry, running Init first if needed.
// Concurrent callers share one build; the registry is immutable.
func (c *Client) Operations(ctx context.Context) (*wsdl.Registry, error) {
	return c.prepare(ctx)
}

func (c *Client) prepare(ctx context.Context) (*wsdl.Registry, error) {
	c.mu.Lock()
	reg := c.registry
	c.mu.Unlock()
	if reg != nil {
		return reg, nil
	}

	v, err, _ := c.group.Do("registry", func() (any, error) {
		res, err := c.bootstrap.Run(ctx)
		if err != nil {
			c.security.LogBootstrap(SubtypeBootstrapFailed, OutcomeFailure, SeverityError,
				map[string]any{"error": err.Error()})
			return nil, err
		}
		reg, err := wsdl.ParseRegistry(res.ServicePath)
		if err != nil {
			return nil, err
		}
		if reg.Endpoint() != c.endpoint {
			c.logger.Warn("service document names another endpoint",
				"document", reg.Endpoint(),
				"endpoint", c.endpoint)
		}

		c.mu.Lock()
		c.registry = reg
		c.servicePath = res.ServicePath
		c.mu.Unlock()

		c.security.LogBootstrap(SubtypeBootstrapReady, OutcomeSuccess, SeverityInfo, map[string]any{
			"dir":        res.Dir,
			"fetched":    res.Fetched,
			"operations": reg.Len(),
		})
		c.logger.Info("operation registry ready",
			"dir", res.Dir,
			"operations", reg.Len())
		return reg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*wsdl.Registry), nil
}

// Run calls operation op with the argument tree args and an optional SOAP
// header tree, and returns the decoded first body element of the response.
//
// An operation the service does not expose fails with
// ews.KindUnknownOperation before anything is sent. A SOAP fault is
// returned as an ews.KindRemote error wrapping *soap.Fault.
func (c *Client) Run(ctx context.Context, op string, args, header any) (soap.Tree, error) {
	reg, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}
	desc, ok := reg.Lookup(op)
	if !ok {
		c.security.LogOperation(SubtypeOperationUnknown, op, OutcomeDenied, SeverityWarning, nil)
		return nil, ews.Errorf(ews.KindUnknownOperation, "client: run", fmt.Sprintf("unknown operation %q", op))
	}

	body, err := soap.Request(desc.Name, args, header)
	if err != nil {
		return nil, ews.E(ews.KindConfig, "client: encode "+op, err)
	}

	if err := c.calls.Acquire(ctx); err != nil {
		return nil, ews.E(ews.KindNetwork, "client: "+op, err)
	}
	defer c.calls.Release()
	defer c.metrics.enter()()

	requestID := uuid.NewString()
	logger := c.logger.With("operation", op, "request_id", requestID)
	c.security.LogOperation(SubtypeOperationRun, op, OutcomeAttempt, SeverityInfo,
		map[string]any{"request_id": requestID})

	start := time.Now()
	tree, err := c.runWithRetry(ctx, desc, body, requestID, logger)
	c.metrics.observe(op, err, time.Since(start))

	switch {
	case err == nil:
		logger.Debug("operation complete", "duration", time.Since(start))
		c.security.LogOperation(SubtypeOperationDone, op, OutcomeSuccess, SeverityInfo,
			map[string]any{"request_id": requestID})
	case errors.Is(err, ews.ErrUnauthorized):
		c.security.LogAuthentication(SubtypeAuthFailure, op, OutcomeDenied, SeverityWarning,
			map[string]any{"request_id": requestID, "scheme": c.strategy.Name()})
	default:
		c.security.LogOperation(SubtypeOperationFailed, op, OutcomeFailure, SeverityError,
			map[string]any{"request_id": requestID, "error": err.Error()})
	}
	return tree, err
}

func (c *Client) runWithRetry(ctx context.Context, op wsdl.Operation, body []byte, requestID string, logger *slog.Logger) (soap.Tree, error) {
	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, ews.E(ews.KindNetwork, "client: rate limit", err)
			}
		}

		var tree soap.Tree
		err := c.breaker.Execute(func() error {
			var err error
			tree, err = c.call(ctx, op, body, requestID)
			return err
		})
		if err == nil {
			return tree, nil
		}
		if c.retry == nil || attempt >= c.retry.MaxAttempts || !isRetryableError(err) {
			return nil, err
		}

		delay := retryDelay(attempt+1, c.retry, err)
		logger.Warn("retrying operation", "attempt", attempt+1, "delay", delay, "error", err)
		c.metrics.retried(op.Name)
		if err := sleep(ctx, delay); err != nil {
			return nil, ews.E(ews.KindNetwork, "client: retry "+op.Name, err)
		}
	}
}

// call performs one authenticated POST of the envelope.
func (c *Client) call(ctx context.Context, op wsdl.Operation, body []byte, requestID string) (soap.Tree, error) {
	h := http.Header{}
	h.Set("Content-Type", soap.ContentType)
	h.Set("Accept", "text/xml")
	h.Set("SOAPAction", `"`+op.SOAPAction+`"`)
	h.Set("client-request-id", requestID)
	h.Set("return-client-request-id", "true")

	resp, err := c.transport.Send(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    c.endpoint,
		Header: h,
		Body:   body,
	}, c.strategy.NewSession())
	if err != nil {
		return nil, err
	}

	opName := "client: " + op.Name
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, transport.StatusError(opName, resp)
	}

	tree, err := soap.ParseResponse(resp.Body)
	var fault *soap.Fault
	if errors.As(err, &fault) {
		return nil, ews.E(ews.KindRemote, opName, fault)
	}
	if err := transport.StatusError(opName, resp); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, ews.E(ews.KindProtocol, opName, err)
	}
	return tree, nil
}
