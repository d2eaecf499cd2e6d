package backsync_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/store"
	"github.com/arloliu/backsync/types"
)

func newResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestResponseStorePutGet(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	q, err := backsync.NewQueue("orders", st)
	require.NoError(t, err)
	responses := backsync.NewResponseStore(st)

	id, err := q.Push(ctx, newRequest(t, http.MethodPost, "https://api.example.com/a", "req"))
	require.NoError(t, err)

	_, ok, err := responses.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "no response before replay")

	rec, ok, err := q.GetRequestFromQueue(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	snap, err := responses.Put(ctx, id, rec, newResponse(http.StatusCreated, `{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, snap.Status)
	assert.Nil(t, rec.Response, "caller's record is not modified")

	got, ok, err := responses.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusCreated, got.Status)
	assert.Equal(t, []byte(`{"ok":true}`), got.Body)
	assert.Equal(t, []types.HeaderPair{{Name: "Content-Type", Value: "application/json"}}, got.Headers)

	// The request half of the record is untouched.
	rec, ok, err = q.GetRequestFromQueue(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("req"), rec.Request.Body)
	assert.True(t, rec.Replayed())
}

func TestResponseStoreGetUnknownID(t *testing.T) {
	responses := backsync.NewResponseStore(store.NewMemory())

	snap, ok, err := responses.Get(context.Background(), "https://api.example.com/a!1!1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestResponseStoreBodyLimit(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	responses := backsync.NewResponseStore(st, backsync.WithResponseBodyLimit(4))

	rec := &types.EntryRecord{Request: types.RequestSnapshot{URL: "https://api.example.com/a", Method: http.MethodGet}}

	_, err := responses.Put(ctx, "id!1!1", rec, newResponse(http.StatusOK, "too large"))
	require.ErrorIs(t, err, types.ErrBodyTooLarge)

	_, ok, err := st.Get(ctx, "id!1!1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = responses.Put(ctx, "id!1!1", rec, newResponse(http.StatusOK, "fits"))
	require.NoError(t, err)
}
