package wsdl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	ews "github.com/smnsjas/go-ews"
)

// Resource identifies one of the downloaded service documents.
type Resource int

const (
	// ResourceMessages is messages.xsd.
	ResourceMessages Resource = iota
	// ResourceTypes is types.xsd.
	ResourceTypes
	// ResourceServices is services.wsdl.
	ResourceServices
)

// FileName returns the cache file name of the resource.
func (r Resource) FileName() string {
	switch r {
	case ResourceMessages:
		return "messages.xsd"
	case ResourceTypes:
		return "types.xsd"
	case ResourceServices:
		return "services.wsdl"
	default:
		return fmt.Sprintf("resource-%d", int(r))
	}
}

func (r Resource) String() string { return r.FileName() }

// State is the lifecycle position of a cache entry.
type State int

const (
	// StateMissing means the file is not in the cache directory yet.
	StateMissing State = iota
	// StateFetching means a download is in flight.
	StateFetching
	// StatePresent means the file is cached as served.
	StatePresent
	// StatePatched means the service document carries the service block.
	StatePatched
)

func (s State) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateFetching:
		return "fetching"
	case StatePresent:
		return "present"
	case StatePatched:
		return "patched"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CacheEntry is one cached service document.
type CacheEntry struct {
	Resource  Resource
	RemoteURL string
	LocalPath string
	State     State
}

// Result describes a completed bootstrap.
type Result struct {
	// Dir is the cache directory that was used.
	Dir string

	// Entries holds messages.xsd, types.xsd and services.wsdl in that order.
	Entries []CacheEntry

	// ServicePath is the repaired services.wsdl.
	ServicePath string

	// Fetched is the number of documents downloaded by this run.
	Fetched int
}

// Fetcher downloads url to dest. auth.Strategy implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) (string, error)
}

// Endpoint returns the SOAP endpoint of host.
func Endpoint(host string) string {
	return strings.TrimRight(host, "/") + "/EWS/Exchange.asmx"
}

// ResourceURL returns the download URL of r on host.
func ResourceURL(host string, r Resource) string {
	return strings.TrimRight(host, "/") + "/ews/" + r.FileName()
}

// Bootstrap acquires and repairs the service documents of one host.
type Bootstrap struct {
	host    string
	fetcher Fetcher
	logger  *slog.Logger

	mu  sync.Mutex
	dir string
}

// Option configures a Bootstrap.
type Option func(*Bootstrap)

// WithCacheDir sets the preferred cache directory. If it does not exist or
// is not a directory a fresh temporary directory is used instead.
func WithCacheDir(dir string) Option {
	return func(b *Bootstrap) {
		b.dir = dir
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bootstrap) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBootstrap returns a bootstrap for host that downloads through f.
func NewBootstrap(host string, f Fetcher, opts ...Option) *Bootstrap {
	b := &Bootstrap{
		host:    strings.TrimRight(host, "/"),
		fetcher: f,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dir returns the directory the last successful run used, or the configured
// directory before any run.
func (b *Bootstrap) Dir() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dir
}

// Run makes sure the three documents exist in the cache directory and that
// services.wsdl carries the service definition. Documents already present
// are not downloaded again.
//
// If the cache directory turns out to be unusable, the whole sequence is
// retried once in a fresh temporary directory, which is then remembered.
func (b *Bootstrap) Run(ctx context.Context) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir, fellBack, err := b.resolveDir()
	if err != nil {
		return nil, err
	}

	res, err := b.runIn(ctx, dir)
	if err != nil && !fellBack && errors.Is(err, ews.ErrFileSystem) && ctx.Err() == nil {
		b.logger.Warn("cache directory unusable, retrying in a temporary directory",
			"dir", dir, "error", err)
		if dir, err = makeTempDir(); err != nil {
			return nil, err
		}
		res, err = b.runIn(ctx, dir)
	}
	if err != nil {
		return nil, err
	}

	b.dir = res.Dir
	return res, nil
}

// resolveDir returns the configured directory when it is a directory, and a
// new temporary directory otherwise.
func (b *Bootstrap) resolveDir() (dir string, fellBack bool, err error) {
	if b.dir != "" {
		fi, err := os.Stat(b.dir)
		if err == nil && fi.IsDir() {
			return b.dir, false, nil
		}
		b.logger.Debug("cache directory not usable", "dir", b.dir, "error", err)
	}
	dir, err = makeTempDir()
	return dir, true, err
}

func makeTempDir() (string, error) {
	dir, err := os.MkdirTemp("", "ews-")
	if err != nil {
		return "", ews.E(ews.KindFileSystem, "wsdl: create temp dir", err)
	}
	return dir, nil
}

// runIn performs fetch and repair against dir.
func (b *Bootstrap) runIn(ctx context.Context, dir string) (*Result, error) {
	res := &Result{Dir: dir}
	for _, r := range []Resource{ResourceMessages, ResourceTypes, ResourceServices} {
		e := CacheEntry{
			Resource:  r,
			RemoteURL: ResourceURL(b.host, r),
			LocalPath: filepath.Join(dir, r.FileName()),
			State:     StateMissing,
		}
		if fi, err := os.Stat(e.LocalPath); err == nil && fi.Mode().IsRegular() {
			e.State = StatePresent
		}
		res.Entries = append(res.Entries, e)
	}

	if err := b.fetchAll(ctx, res); err != nil {
		return nil, err
	}

	svc := &res.Entries[ResourceServices]
	changed, err := Repair(svc.LocalPath, Endpoint(b.host))
	if err != nil {
		return nil, err
	}
	svc.State = StatePatched
	res.ServicePath = svc.LocalPath

	b.logger.Debug("service documents ready",
		"dir", dir,
		"fetched", res.Fetched,
		"repaired", changed)
	return res, nil
}

// fetchAll downloads the missing entries concurrently.
func (b *Bootstrap) fetchAll(ctx context.Context, res *Result) error {
	g, gctx := errgroup.WithContext(ctx)
	fetched := make([]bool, len(res.Entries))
	for i := range res.Entries {
		e := &res.Entries[i]
		if e.State != StateMissing {
			continue
		}
		e.State = StateFetching
		g.Go(func() error {
			b.logger.Debug("fetching", "url", e.RemoteURL, "dest", e.LocalPath)
			if _, err := b.fetcher.Fetch(gctx, e.RemoteURL, e.LocalPath); err != nil {
				return fmt.Errorf("wsdl: fetch %s: %w", e.Resource, err)
			}
			e.State = StatePresent
			fetched[i] = true
			return nil
		})
	}
	err := g.Wait()
	for _, ok := range fetched {
		if ok {
			res.Fetched++
		}
	}
	return err
}
