package backsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/arloliu/backsync/codec"
	"github.com/arloliu/backsync/types"
)

// ErrRedirectNotAllowed is returned by HTTPFetcher for a redirect of a
// request recorded with the "error" redirect policy.
var ErrRedirectNotAllowed = errors.New("backsync: redirect not allowed")

// HTTPFetcher is the default Fetcher, backed by an *http.Client.
//
// It honors the redirect policy recorded in the request's fetch options:
// "follow" uses the client's own redirect handling, "error" fails the fetch
// on the first redirect and "manual" returns the redirect response as-is.
type HTTPFetcher struct {
	client *http.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher. A nil client uses http.DefaultClient.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPFetcher{client: client}
}

// Fetch sends req with ctx.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	opts := codec.FetchOptionsFromContext(req.Context())

	client := f.client
	switch opts.Redirect {
	case types.RedirectError:
		c := *f.client
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return ErrRedirectNotAllowed
		}
		client = &c
	case types.RedirectManual:
		c := *f.client
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
		client = &c
	}

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("backsync: fetch %s: %w", req.URL.Redacted(), err)
	}

	return resp, nil
}
