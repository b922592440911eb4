package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ews "github.com/smnsjas/go-ews"
	"github.com/smnsjas/go-ews/internal/ntlmtest"
	"github.com/smnsjas/go-ews/ntlm"
	"github.com/smnsjas/go-ews/soap"
	"github.com/smnsjas/go-ews/wsdl"
)

var serverCreds = ntlm.Credentials{Username: "alice", Domain: "CORP", Password: "Passw0rd!"}

const fixtures = "../wsdl/testdata"

const getFolderResponse = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Header>
    <h:ServerVersionInfo MajorVersion="15" MinorVersion="1" xmlns:h="http://schemas.microsoft.com/exchange/services/2006/types"/>
  </s:Header>
  <s:Body>
    <m:GetFolderResponse xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages" xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types">
      <m:ResponseMessages>
        <m:GetFolderResponseMessage ResponseClass="Success">
          <m:ResponseCode>NoError</m:ResponseCode>
          <m:Folders>
            <t:Folder>
              <t:FolderId Id="AAMk" ChangeKey="AQAA"/>
              <t:DisplayName>Inbox</t:DisplayName>
            </t:Folder>
          </m:Folders>
        </m:GetFolderResponseMessage>
      </m:ResponseMessages>
    </m:GetFolderResponse>
  </s:Body>
</s:Envelope>`

const serverBusyFault = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>` +
	`<faultcode xmlns:a="http://schemas.microsoft.com/exchange/services/2006/types">a:ErrorServerBusy</faultcode>` +
	`<faultstring>The server cannot service this request right now.</faultstring>` +
	`<detail><e:ResponseCode xmlns:e="http://schemas.microsoft.com/exchange/services/2006/errors">ErrorServerBusy</e:ResponseCode>` +
	`<t:MessageXml xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types">` +
	`<t:Value Name="BackOffMilliseconds">10</t:Value></t:MessageXml></detail>` +
	`</s:Fault></s:Body></s:Envelope>`

// fakeExchange serves the three service documents and the SOAP endpoint.
type fakeExchange struct {
	t *testing.T

	gets  atomic.Int32
	posts atomic.Int32

	// respond answers a SOAP call; nil answers GetFolder.
	respond func(w http.ResponseWriter, n int32)

	mu        sync.Mutex
	lastOp    string
	lastArgs  soap.Tree
	lastReqID string
	lastHdr   http.Header
}

func (f *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/ews/"):
		f.gets.Add(1)
		data, err := os.ReadFile(filepath.Join(fixtures, filepath.Base(r.URL.Path)))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	case r.Method == http.MethodPost && r.URL.Path == "/EWS/Exchange.asmx":
		n := f.posts.Add(1)
		body, _ := io.ReadAll(r.Body)
		op, args, err := soap.ParseRequest(body)
		if err != nil {
			f.t.Errorf("server could not parse request: %v", err)
		}
		f.mu.Lock()
		f.lastOp, f.lastArgs = op, args
		f.lastReqID = r.Header.Get("client-request-id")
		f.lastHdr = r.Header.Clone()
		f.mu.Unlock()

		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		if f.respond != nil {
			f.respond(w, n)
			return
		}
		_, _ = io.WriteString(w, getFolderResponse)
	default:
		http.NotFound(w, r)
	}
}

func newNTLMServer(t *testing.T, fx *fakeExchange) (*httptest.Server, *ntlmtest.Handler) {
	t.Helper()
	fx.t = t
	h := ntlmtest.NewHandler(serverCreds, fx)
	srv := httptest.NewTLSServer(h)
	t.Cleanup(srv.Close)
	return srv, h
}

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config, opts ...Option) *Client {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = srv.URL
	}
	if cfg.Username == "" && cfg.Token == "" {
		cfg.Username, cfg.Domain, cfg.Password = serverCreds.Username, serverCreds.Domain, serverCreds.Password
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = t.TempDir()
	}
	opts = append([]Option{WithRoundTripper(srv.Client().Transport)}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

var getFolderArgs = map[string]any{
	"FolderShape": map[string]any{"BaseShape": "Default"},
	"FolderIds": map[string]any{
		"DistinguishedFolderId": map[string]any{
			"attributes": map[string]any{"Id": "inbox"},
		},
	},
}

func TestNew_ConfigErrors(t *testing.T) {
	_, err := New(Config{Host: "mail.example.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ews.ErrConfig), "got %v", err)

	c, err := New(Config{Host: "mail.example.com", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "https://mail.example.com/EWS/Exchange.asmx", c.Endpoint())
}

func TestClient_RunGetFolder(t *testing.T) {
	fx := &fakeExchange{}
	srv, h := newNTLMServer(t, fx)
	cacheDir := t.TempDir()
	reg := prometheus.NewRegistry()
	c := newTestClient(t, srv, Config{CacheDir: cacheDir}, WithMetrics(reg))

	tree, err := c.Run(context.Background(), "GetFolder", getFolderArgs, nil)
	require.NoError(t, err)

	assert.Equal(t, "Inbox", tree.Get("ResponseMessages.GetFolderResponseMessage.Folders.Folder.DisplayName").String())
	assert.Equal(t, "Success", tree.Get("ResponseMessages.GetFolderResponseMessage.attributes.ResponseClass").String())

	for _, name := range []string{"messages.xsd", "types.xsd", "services.wsdl"} {
		assert.FileExists(t, filepath.Join(cacheDir, name))
	}
	data, err := os.ReadFile(filepath.Join(cacheDir, "services.wsdl"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), wsdl.ServiceBlock(srv.URL+"/EWS/Exchange.asmx")))
	assert.Equal(t, 1, strings.Count(string(data), `<wsdl:service name="ExchangeServices">`))

	assert.Equal(t, int32(3), fx.gets.Load())
	assert.Equal(t, int32(1), fx.posts.Load())
	assert.Equal(t, 4, h.Accepted(), "every call completes its own handshake")
	assert.Equal(t, 8, h.Requests())

	fx.mu.Lock()
	assert.Equal(t, "GetFolder", fx.lastOp)
	assert.Equal(t, "inbox", fx.lastArgs.Get("FolderIds.DistinguishedFolderId.attributes.Id").String())
	assert.NotEmpty(t, fx.lastReqID)
	assert.Equal(t, "true", fx.lastHdr.Get("return-client-request-id"))
	assert.Equal(t, `"http://schemas.microsoft.com/exchange/services/2006/messages/GetFolder"`, fx.lastHdr.Get("SOAPAction"))
	assert.Equal(t, soap.ContentType, fx.lastHdr.Get("Content-Type"))
	fx.mu.Unlock()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.operations.WithLabelValues("GetFolder", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.metrics.inFlight))
}

func TestClient_RunWithHeader(t *testing.T) {
	fx := &fakeExchange{}
	srv, _ := newNTLMServer(t, fx)
	c := newTestClient(t, srv, Config{})

	header := map[string]any{
		"RequestServerVersion": map[string]any{"attributes": map[string]any{"Version": "Exchange2016"}},
	}
	_, err := c.Run(context.Background(), "GetFolder", getFolderArgs, header)
	require.NoError(t, err)
}

func TestClient_UnknownOperationSendsNothing(t *testing.T) {
	fx := &fakeExchange{}
	srv, h := newNTLMServer(t, fx)
	c := newTestClient(t, srv, Config{})

	_, err := c.Init(context.Background())
	require.NoError(t, err)
	before := h.Requests()

	_, err = c.Run(context.Background(), "DeleteEverything", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ews.ErrUnknownOperation), "got %v", err)
	assert.Equal(t, before, h.Requests())
	assert.Equal(t, int32(0), fx.posts.Load())
}

func TestClient_PreseededCacheNeedsNoNetwork(t *testing.T) {
	fx := &fakeExchange{}
	srv, h := newNTLMServer(t, fx)

	dir := t.TempDir()
	for _, name := range []string{"messages.xsd", "types.xsd", "services.wsdl"} {
		data, err := os.ReadFile(filepath.Join(fixtures, name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	c := newTestClient(t, srv, Config{CacheDir: dir})

	_, err := c.Run(context.Background(), "getfolder", nil, nil)
	assert.True(t, errors.Is(err, ews.ErrUnknownOperation), "got %v", err)
	assert.Equal(t, 0, h.Requests())

	reg, err := c.Operations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"FindItem", "GetFolder", "GetServerTimeZones"}, reg.Names())
}

func TestClient_Init(t *testing.T) {
	fx := &fakeExchange{}
	srv, _ := newNTLMServer(t, fx)
	dir := t.TempDir()
	c := newTestClient(t, srv, Config{CacheDir: dir})

	path, err := c.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "services.wsdl"), path)
	assert.Equal(t, dir, c.CacheDir())

	// A second Init reuses the registry.
	_, err = c.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), fx.gets.Load())
}

func TestClient_ConcurrentOperationsShareBootstrap(t *testing.T) {
	fx := &fakeExchange{}
	srv, _ := newNTLMServer(t, fx)
	c := newTestClient(t, srv, Config{})

	var wg sync.WaitGroup
	regs := make([]*wsdl.Registry, 8)
	errs := make([]error, 8)
	for i := range regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			regs[i], errs[i] = c.Operations(context.Background())
		}()
	}
	wg.Wait()

	for i := range regs {
		require.NoError(t, errs[i])
		assert.Same(t, regs[0], regs[i])
	}
	assert.Equal(t, int32(3), fx.gets.Load())
}

func TestClient_WrongPassword(t *testing.T) {
	fx := &fakeExchange{}
	srv, h := newNTLMServer(t, fx)
	c := newTestClient(t, srv, Config{Username: "alice", Domain: "CORP", Password: "wrong"})

	_, err := c.Run(context.Background(), "GetFolder", getFolderArgs, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ews.ErrUnauthorized), "got %v", err)
	assert.Equal(t, 0, h.Accepted())
	assert.Equal(t, int32(0), fx.gets.Load())
}

func TestClient_FaultIsRemoteError(t *testing.T) {
	fx := &fakeExchange{respond: func(w http.ResponseWriter, _ int32) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, serverBusyFault)
	}}
	srv, _ := newNTLMServer(t, fx)
	c := newTestClient(t, srv, Config{})

	_, err := c.Run(context.Background(), "GetFolder", getFolderArgs, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ews.ErrRemote), "got %v", err)

	var f *soap.Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, "ErrorServerBusy", f.ResponseCode)
	assert.Equal(t, 10*time.Millisecond, f.BackOff())
	assert.Equal(t, int32(1), fx.posts.Load(), "no retries without a policy")
}

func TestClient_RetriesThrottledCalls(t *testing.T) {
	fx := &fakeExchange{respond: func(w http.ResponseWriter, n int32) {
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, serverBusyFault)
			return
		}
		_, _ = io.WriteString(w, getFolderResponse)
	}}
	srv, _ := newNTLMServer(t, fx)
	reg := prometheus.NewRegistry()
	c := newTestClient(t, srv, Config{},
		WithMetrics(reg),
		WithRetryPolicy(&RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 50 * time.Millisecond}))

	tree, err := c.Run(context.Background(), "GetFolder", getFolderArgs, nil)
	require.NoError(t, err)
	assert.Equal(t, "NoError", tree.Get("ResponseMessages.GetFolderResponseMessage.ResponseCode").String())
	assert.Equal(t, int32(3), fx.posts.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.retries.WithLabelValues("GetFolder")))
}

func TestClient_HTTPErrorWithoutFault(t *testing.T) {
	fx := &fakeExchange{respond: func(w http.ResponseWriter, _ int32) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}}
	srv, _ := newNTLMServer(t, fx)
	c := newTestClient(t, srv, Config{},
		WithCircuitBreaker(&CircuitBreakerPolicy{FailureThreshold: 1, ResetTimeout: time.Minute}))

	_, err := c.Run(context.Background(), "GetFolder", getFolderArgs, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ews.ErrRemote), "got %v", err)
	assert.False(t, soap.IsFault(err))

	_, err = c.Run(context.Background(), "GetFolder", getFolderArgs, nil)
	assert.True(t, errors.Is(err, ErrCircuitOpen), "got %v", err)
	assert.Equal(t, int32(1), fx.posts.Load())
}

func TestClient_GarbageResponseIsProtocolError(t *testing.T) {
	fx := &fakeExchange{respond: func(w http.ResponseWriter, _ int32) {
		_, _ = io.WriteString(w, "<html>maintenance</html>")
	}}
	srv, _ := newNTLMServer(t, fx)
	c := newTestClient(t, srv, Config{})

	_, err := c.Run(context.Background(), "GetFolder", getFolderArgs, nil)
	assert.True(t, errors.Is(err, ews.ErrProtocol), "got %v", err)
}

func TestClient_InvalidArguments(t *testing.T) {
	fx := &fakeExchange{}
	srv, _ := newNTLMServer(t, fx)
	c := newTestClient(t, srv, Config{})

	_, err := c.Run(context.Background(), "GetFolder", map[string]any{"attributes": "bad"}, nil)
	assert.True(t, errors.Is(err, ews.ErrConfig), "got %v", err)

	_, err = c.Run(context.Background(), "GetFolder", soap.JSON(`{"FolderIds><t:Evil/><m:X": "inbox"}`), nil)
	assert.True(t, errors.Is(err, ews.ErrConfig), "got %v", err)
	assert.Equal(t, int32(0), fx.posts.Load())
}

func TestClient_BasicAuth(t *testing.T) {
	fx := &fakeExchange{}
	var sawAuth atomic.Bool
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "s3cret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="ews"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		sawAuth.Store(true)
		fx.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	fx.t = t

	c := newTestClient(t, srv, Config{AuthKind: "basic", Username: "alice", Password: "s3cret"})
	_, err := c.Run(context.Background(), "GetFolder", getFolderArgs, nil)
	require.NoError(t, err)
	assert.True(t, sawAuth.Load())
}

func TestClient_RateLimit(t *testing.T) {
	fx := &fakeExchange{}
	srv, _ := newNTLMServer(t, fx)
	c := newTestClient(t, srv, Config{}, WithRateLimit(20, 1), WithMaxConcurrent(2, -1, time.Second))
	ctx := context.Background()
	_, err := c.Init(ctx)
	require.NoError(t, err)

	start := time.Now()
	for range 3 {
		_, err := c.Run(ctx, "GetFolder", getFolderArgs, nil)
		require.NoError(t, err)
	}
	// Burst 1 at 20/s: the second and third calls wait about 50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestClient_ContextDeadlineIsNetworkError(t *testing.T) {
	fx := &fakeExchange{respond: func(w http.ResponseWriter, _ int32) {
		time.Sleep(200 * time.Millisecond)
		_, _ = io.WriteString(w, getFolderResponse)
	}}
	srv, _ := newNTLMServer(t, fx)
	c := newTestClient(t, srv, Config{})
	_, err := c.Init(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Run(ctx, "GetFolder", getFolderArgs, nil)
	assert.True(t, errors.Is(err, ews.ErrNetwork), "got %v", err)
}
