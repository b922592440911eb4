package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/moby/sys/atomicwriter"

	ews "github.com/smnsjas/go-ews"
	"github.com/smnsjas/go-ews/soap/transport"
)

// fetcher downloads documents through the transport. Writes are atomic: dest
// holds either its previous content or the complete new body.
type fetcher struct {
	tr     *transport.Client
	logger *slog.Logger
}

func (f fetcher) fetch(ctx context.Context, s transport.Session, url, dest string) (string, error) {
	const op = "fetch"

	resp, err := f.tr.Send(ctx, transport.Request{Method: http.MethodGet, URL: url}, s)
	if err != nil {
		return "", err
	}
	if err := transport.StatusError(op+" "+url, resp); err != nil {
		return "", err
	}

	if err := atomicwriter.WriteFile(dest, resp.Body, 0o644); err != nil {
		return "", ews.E(ews.KindFileSystem, op, err)
	}

	f.logger.Debug("fetched resource",
		"url", url,
		"dest", dest,
		"bytes", len(resp.Body),
		"exchanges", resp.Exchanges)
	return dest, nil
}
