package edgeconfig

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambiyansyah-risyal/edgeconfig/internal/storetest"
)

func newTestClient(t *testing.T, store *storetest.Server, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithLogger(zerolog.Nop()),
		WithMetricsCollector(NewMetricsCollectorWithRegistry(prometheus.NewRegistry())),
	}
	client, err := New(store.ConnectionString(), append(base, opts...)...)
	require.NoError(t, err)
	return client
}

func TestNewRejectsBadConnectionStrings(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrNoConnectionString)

	_, err = New("foo")
	assert.ErrorIs(t, err, ErrInvalidConnectionString)

	_, err = New("https://edge-config.vercel.com/ecfg_abc")
	assert.ErrorIs(t, err, ErrInvalidConnectionString)
}

func TestNewValidatesOptions(t *testing.T) {
	conn := "https://example.com/ecfg-1?token=t"

	_, err := New(conn, WithTimeout(0))
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrorTypeValidation, clientErr.Type)

	_, err = New(conn, WithBatchWindow(-time.Millisecond), WithStaleIfError(-time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batchWindow cannot be negative")
	assert.Contains(t, err.Error(), "staleIfError cannot be negative")

	_, err = New(conn, WithMiddleware(nil))
	require.Error(t, err)

	_, err = New(conn, WithHTTPClient(nil))
	require.Error(t, err)

	client, err := New(conn, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	assert.Equal(t, "ecfg-1", client.Connection().ID)
	assert.Equal(t, ConnectionTypeExternal, client.Connection().Type)
	assert.Equal(t, DefaultStaleIfError, client.ETagCache().StaleIfError())
}

func TestClientSendsHeaders(t *testing.T) {
	store := storetest.New(t)
	store.Set("foo", "bar")
	client := newTestClient(t, store, WithEnvironment("production"))

	_, err := client.Get(context.Background(), "foo")
	require.NoError(t, err)

	reqs := store.Requests()
	require.Len(t, reqs, 1)
	h := reqs[0].Header
	assert.Equal(t, "Bearer token-1", h.Get("Authorization"))
	assert.Equal(t, "edgeconfig-go@"+Version, h.Get("x-edge-config-sdk"))
	assert.Equal(t, "production", h.Get("x-edge-config-vercel-env"))
	assert.Equal(t, "stale-if-error=604800", h.Get("Cache-Control"))
}

func TestClientWithoutScopeAlwaysFetches(t *testing.T) {
	store := storetest.New(t)
	store.Set("foo", "bar")
	client := newTestClient(t, store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v, err := client.Get(ctx, "foo")
		require.NoError(t, err)
		assert.Equal(t, `"bar"`, v.String())
	}
	ok, err := client.Has(ctx, "foo")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []string{
		"GET /item/foo?version=1",
		"GET /item/foo?version=1",
		"HEAD /item/foo?version=1",
	}, store.Endpoints())
}

func TestClientGetMissingKey(t *testing.T) {
	store := storetest.New(t)
	client := newTestClient(t, store)

	v, err := client.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, v.Exists())

	ok, err := client.Has(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientRejectsEmptyKey(t *testing.T) {
	store := storetest.New(t)
	client := newTestClient(t, store)

	_, err := client.Get(context.Background(), "")
	assert.Error(t, err)
	_, err = client.Has(context.Background(), "")
	assert.Error(t, err)
	assert.Equal(t, 0, store.Count())
}

func TestClientGetManyRejectsEmptyKey(t *testing.T) {
	store := storetest.New(t)
	store.Set("foo", "bar")
	client := newTestClient(t, store)

	for _, ctx := range []context.Context{context.Background(), WithScope(context.Background())} {
		_, err := client.GetMany(ctx, []string{""})
		var clientErr *ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, ErrorTypeValidation, clientErr.Type)

		_, err = client.GetMany(ctx, []string{"foo", ""})
		assert.Error(t, err)
	}
	assert.Equal(t, 0, store.Count())
}

func TestClientUnexpectedStatus(t *testing.T) {
	store := storetest.New(t)
	client := newTestClient(t, store)
	store.FailWith(http.StatusUnauthorized)

	_, err := client.Get(context.Background(), "foo")
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.False(t, IsTransient(err))

	_, err = client.Has(context.Background(), "foo")
	require.ErrorIs(t, err, ErrUnexpectedStatus)

	_, err = client.GetMany(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestClientGetMany(t *testing.T) {
	store := storetest.New(t)
	store.Set("a", 1)
	store.Set("b", 2)
	client := newTestClient(t, store)

	values, err := client.GetMany(context.Background(), []string{"b", "missing", "a", "b"})
	require.NoError(t, err)
	require.Len(t, values, 4)
	assert.Equal(t, "2", values[0].String())
	assert.False(t, values[1].Exists())
	assert.Equal(t, "1", values[2].String())
	assert.Equal(t, "2", values[3].String())
	assert.Equal(t, []string{"GET /items?version=1&key=a&key=b&key=missing"}, store.Endpoints())

	empty, err := client.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, 1, store.Count())
}

func TestClientGetAllAndDigest(t *testing.T) {
	store := storetest.New(t)
	store.Set("a", 1)
	store.Set("nothing", nil)
	store.SetDigest("d-123")
	client := newTestClient(t, store)

	items, err := client.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "nothing"}, items.Keys())
	assert.True(t, items["nothing"].Exists(), "a stored null is present")
	assert.Nil(t, items["nothing"].Interface())

	digest, err := client.Digest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "d-123", digest)
}

func TestGetAs(t *testing.T) {
	store := storetest.New(t)
	store.Set("flags", map[string]any{"beta": true, "limit": 5})
	store.Set("name", "edge")
	client := newTestClient(t, store)
	ctx := WithScope(context.Background())

	type flags struct {
		Beta  bool `json:"beta"`
		Limit int  `json:"limit"`
	}
	f, ok, err := GetAs[flags](ctx, client, "flags")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, flags{Beta: true, Limit: 5}, f)

	_, ok, err = GetAs[flags](ctx, client, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = GetAs[int](ctx, client, "name")
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrorTypeDecode, clientErr.Type)
}

func TestClientRevalidatesWithETag(t *testing.T) {
	store := storetest.New(t)
	store.EnableETags()
	store.Set("foo", "bar")
	reg := prometheus.NewRegistry()
	metrics := NewMetricsCollectorWithRegistry(reg)
	client := newTestClient(t, store, WithMetricsCollector(metrics))

	for i := 0; i < 2; i++ {
		v, err := client.Get(context.Background(), "foo")
		require.NoError(t, err)
		assert.Equal(t, `"bar"`, v.String())
	}

	reqs := store.Requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].Header.Get("If-None-Match"))
	assert.NotEmpty(t, reqs[1].Header.Get("If-None-Match"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.revalidations.WithLabelValues("not_modified")))

	store.Set("foo", "baz")
	v, err := client.Get(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, `"baz"`, v.String())
}

func TestClientServesStaleOnUpstreamFailure(t *testing.T) {
	store := storetest.New(t)
	store.EnableETags()
	store.Set("foo", "bar")
	reg := prometheus.NewRegistry()
	metrics := NewMetricsCollectorWithRegistry(reg)
	client := newTestClient(t, store, WithMetricsCollector(metrics))

	_, err := client.Get(context.Background(), "foo")
	require.NoError(t, err)

	store.FailWith(http.StatusBadGateway)
	v, err := client.Get(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, `"bar"`, v.String())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.staleServed.WithLabelValues("http")))

	_, err = client.Get(context.Background(), "other")
	require.ErrorIs(t, err, ErrUnexpectedStatus, "nothing cached for other")
	assert.True(t, IsTransient(err))
}

func TestClientServesStaleOnNetworkError(t *testing.T) {
	store := storetest.New(t)
	store.EnableETags()
	store.Set("foo", "bar")

	var down atomic.Bool
	failing := func(req *http.Request, next RoundTripper) (*http.Response, error) {
		if down.Load() {
			return nil, errors.New("connection reset by peer")
		}
		return next.RoundTrip(req)
	}
	client := newTestClient(t, store, WithMiddleware(failing))

	items, err := client.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	down.Store(true)
	items, err = client.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"bar"`, items["foo"].String())

	_, err = client.Digest(context.Background())
	require.ErrorIs(t, err, ErrNetwork)
	assert.True(t, IsTransient(err))
}

func TestClientDecodeError(t *testing.T) {
	rt := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("not json")),
			Request:    req,
		}, nil
	})
	client, err := New("https://example.com/ecfg-1?token=t",
		WithLogger(zerolog.Nop()),
		WithHTTPClient(&http.Client{Transport: rt}),
	)
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "foo")
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrorTypeDecode, clientErr.Type)

	_, err = client.GetAll(context.Background())
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrorTypeDecode, clientErr.Type)
}

func TestClientMiddlewareOrder(t *testing.T) {
	store := storetest.New(t)
	store.Set("foo", "bar")

	var order []string
	mw := func(name string) Middleware {
		return func(req *http.Request, next RoundTripper) (*http.Response, error) {
			order = append(order, name+"-before")
			resp, err := next.RoundTrip(req)
			order = append(order, name+"-after")
			return resp, err
		}
	}
	client := newTestClient(t, store, WithMiddleware(mw("first"), mw("second")))

	_, err := client.Get(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"first-before", "second-before", "second-after", "first-after"}, order)
}

func TestClientStaleWhileRevalidate(t *testing.T) {
	store := storetest.New(t)
	store.Set("foo", "bar")
	client := newTestClient(t, store, WithStaleWhileRevalidate())
	ctx := context.Background()

	v, err := client.Get(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, `"bar"`, v.String())

	store.Set("foo", "baz")
	v, err = client.Get(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, `"bar"`, v.String(), "stale value is returned immediately")

	require.Eventually(t, func() bool {
		v, err := client.Get(ctx, "foo")
		return err == nil && v.String() == `"baz"`
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClientStaleWhileRevalidateSurvivesCancelledCaller(t *testing.T) {
	store := storetest.New(t)
	store.Set("foo", "bar")
	client := newTestClient(t, store, WithStaleWhileRevalidate())
	release := store.Block()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := client.Get(ctx, "foo")
		first <- err
	}()
	require.Eventually(t, func() bool { return store.Count() == 1 }, time.Second, time.Millisecond)

	type result struct {
		v   Value
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := client.Get(context.Background(), "foo")
		second <- result{v, err}
	}()

	cancel()
	select {
	case err := <-first:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	release()
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Equal(t, `"bar"`, r.v.String())
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}

	v, err := client.Get(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, `"bar"`, v.String(), "the result is remembered")
}

func writeSnapshot(t *testing.T, dir, id, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(content), 0o600))
}

func TestClientEmbeddedSnapshot(t *testing.T) {
	store := storetest.New(t)
	dir := t.TempDir()
	writeSnapshot(t, dir, store.ID, `{"digest":"emb-1","items":{"foo":"bar","n":null}}`)
	client := newTestClient(t, store, WithEmbeddedDir(dir))
	ctx := WithScope(context.Background())

	v, err := client.Get(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, `"bar"`, v.String())

	ok, err := client.Has(ctx, "n")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = client.Has(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	values, err := client.GetMany(ctx, []string{"foo", "missing"})
	require.NoError(t, err)
	assert.True(t, values[0].Exists())
	assert.False(t, values[1].Exists())

	items, err := client.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	digest, err := client.Digest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "emb-1", digest)

	assert.Equal(t, 0, store.Count())
}

func TestClientEmbeddedFallsBackToNetwork(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		store := storetest.New(t)
		store.Set("foo", "remote")
		client := newTestClient(t, store, WithEmbeddedDir(t.TempDir()))

		v, err := client.Get(context.Background(), "foo")
		require.NoError(t, err)
		assert.Equal(t, `"remote"`, v.String())
		assert.Equal(t, 1, store.Count())
	})

	t.Run("corrupt file", func(t *testing.T) {
		store := storetest.New(t)
		store.Set("foo", "remote")
		dir := t.TempDir()
		writeSnapshot(t, dir, store.ID, `{not json`)
		client := newTestClient(t, store, WithEmbeddedDir(dir))

		v, err := client.Get(context.Background(), "foo")
		require.NoError(t, err)
		assert.Equal(t, `"remote"`, v.String())
	})
}
