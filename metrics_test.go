package edgeconfig

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambiyansyah-risyal/edgeconfig/internal/storetest"
)

func TestNewMetricsCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	if collector == nil {
		t.Fatal("NewMetricsCollectorWithRegistry() returned nil")
	}
	if collector.requestsTotal == nil {
		t.Error("requestsTotal metric not initialized")
	}
	if collector.requestDuration == nil {
		t.Error("requestDuration metric not initialized")
	}
	if collector.revalidations == nil {
		t.Error("revalidations metric not initialized")
	}
	if collector.loaderBatches == nil {
		t.Error("loaderBatches metric not initialized")
	}
	if collector.GetRegistry() != registry {
		t.Error("GetRegistry() should return the registry passed in")
	}
}

func TestMetricsCollectorNilSafe(t *testing.T) {
	var collector *MetricsCollector

	collector.RecordRequest("get", "GET", 200, time.Millisecond)
	collector.RecordRequestStart("get")
	collector.RecordRequestEnd("get")
	collector.RecordRevalidation(true)
	collector.RecordStaleServed("http")
	collector.RecordETagCacheSize(3)
	collector.RecordSWRRefreshFailure("item")
	collector.RecordLoaderBatch("items", 4)
	collector.RecordMemoHit("get")
	collector.RecordEmbeddedRead("get")
	collector.RecordError(ErrorTypeNetwork, "get")

	if collector.GetRegistry() != nil {
		t.Error("nil collector should have no registry")
	}
}

func TestMetricsCollectorRecords(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordRequest("get", "GET", 200, 10*time.Millisecond)
	collector.RecordRequest("get", "GET", 200, 20*time.Millisecond)
	collector.RecordRevalidation(false)
	collector.RecordETagCacheSize(7)
	collector.RecordLoaderBatch("items", 3)

	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("get", "GET", "200")); got != 2 {
		t.Errorf("requests_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.revalidations.WithLabelValues("modified")); got != 1 {
		t.Errorf("revalidations{modified} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.etagCacheSize); got != 7 {
		t.Errorf("etag cache size = %v, want 7", got)
	}
	if got := testutil.ToFloat64(collector.loaderBatches.WithLabelValues("items")); got != 1 {
		t.Errorf("loader batches = %v, want 1", got)
	}
}

func TestClientRecordsMetrics(t *testing.T) {
	store := storetest.New(t)
	store.Set("foo", "bar")
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	client := newTestClient(t, store, WithMetricsCollector(collector))
	ctx := WithScope(context.Background())

	_, err := client.Get(ctx, "foo")
	require.NoError(t, err)
	_, err = client.Get(ctx, "foo")
	require.NoError(t, err)
	store.FailWith(500)
	_, err = client.Digest(ctx)
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.requestsTotal.WithLabelValues("get", "GET", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.requestsTotal.WithLabelValues("digest", "GET", "500")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.loaderBatches.WithLabelValues("item")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.memoHits.WithLabelValues("get")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.errorsTotal.WithLabelValues(ErrorTypeUnexpected, "digest")))
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.requestsInFlight.WithLabelValues("get")))
}
