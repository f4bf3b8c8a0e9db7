// Package fetch wraps the one HTTP call this service ever makes outward:
// a GET against an npm-compatible registry for a package manifest.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"
)

var clientPool = sync.Pool{
	New: func() any {
		return &FetchClient{Client: &http.Client{}}
	},
}

// maxRedirects bounds registry fetches the way any single-purpose HTTP
// client should: a registry manifest lookup has no business chasing an
// open-ended redirect chain.
const maxRedirects = 3

// FetchClient is a pooled HTTP client scoped to one outbound GET at a
// time, recycled via NewClient's returned recycle func so repeated
// manifest lookups don't pay for a fresh *http.Client and its
// connection pool on every call.
type FetchClient struct {
	*http.Client
	userAgent string
}

// NewClient checks out a pooled client configured with the given
// User-Agent and per-request timeout. Registry lookups always want to
// follow redirects to their final manifest response, so the only policy
// this client enforces is the redirect cap.
func NewClient(userAgent string, timeoutSeconds int) (client *FetchClient, recycle func()) {
	client = clientPool.Get().(*FetchClient)
	client.userAgent = userAgent
	client.Timeout = time.Duration(timeoutSeconds) * time.Second
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errors.New("fetch: stopped after too many redirects")
		}
		return nil
	}
	return client, func() { clientPool.Put(client) }
}

// Fetch issues a GET for target, bound to ctx, with the client's
// User-Agent and any caller-supplied headers (such as auth) attached;
// Accept is always set to application/json.
func (c *FetchClient) Fetch(ctx context.Context, target *url.URL, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	if header != nil {
		req.Header = header
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	return c.Do(req)
}
