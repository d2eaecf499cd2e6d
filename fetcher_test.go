package backsync_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/codec"
	"github.com/arloliu/backsync/types"
)

func TestHTTPFetcherRedirectModes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "moved here")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher := backsync.NewHTTPFetcher(srv.Client())

	newReq := func(t *testing.T, redirect string) *http.Request {
		t.Helper()

		ctx := codec.WithFetchOptions(context.Background(), codec.FetchOptions{
			Mode:     types.ModeCORS,
			Redirect: redirect,
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/old", nil)
		require.NoError(t, err)

		return req
	}

	t.Run("follow", func(t *testing.T) {
		resp, err := fetcher.Fetch(context.Background(), newReq(t, types.RedirectFollow))
		require.NoError(t, err)
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "moved here", string(body))
	})

	t.Run("error", func(t *testing.T) {
		resp, err := fetcher.Fetch(context.Background(), newReq(t, types.RedirectError))
		require.ErrorIs(t, err, backsync.ErrRedirectNotAllowed)
		assert.Nil(t, resp)
	})

	t.Run("manual", func(t *testing.T) {
		resp, err := fetcher.Fetch(context.Background(), newReq(t, types.RedirectManual))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/new", resp.Header.Get("Location"))
	})
}

func TestHTTPFetcherReplaysSnapshot(t *testing.T) {
	var gotMethod, gotBody, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeader = r.Header.Get("X-Trace")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	snap := &types.RequestSnapshot{
		URL:     srv.URL + "/orders",
		Method:  http.MethodPut,
		Headers: []types.HeaderPair{{Name: "X-Trace", Value: "abc"}},
		Body:    []byte("payload"),
	}
	req, err := codec.FromSnapshot(context.Background(), snap)
	require.NoError(t, err)

	resp, err := backsync.NewHTTPFetcher(nil).Fetch(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "payload", gotBody)
	assert.Equal(t, "abc", gotHeader)
}

func TestHTTPFetcherNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)

	_, err = backsync.NewHTTPFetcher(nil).Fetch(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backsync: fetch")
}
