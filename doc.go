// Package edgeconfig is a read client for a remote, versioned key-value
// configuration store served over HTTP.
//
//   - Per-request memoisation and batching: reads sharing a Scope (see
//     WithScope and ScopeMiddleware) are coalesced into as few remote calls
//     as possible
//   - Conditional requests: responses carrying an ETag are revalidated with
//     If-None-Match and replayed on 304
//   - Stale-if-error: the last good response is served when the store is
//     unreachable or returns a 5xx
//   - Optional stale-while-revalidate for development setups
//   - Embedded snapshots for serverless deployments
//   - Prometheus metrics and zerolog logging
//
// Typical usage:
//
//	client, err := edgeconfig.New(os.Getenv("EDGE_CONFIG"),
//	    edgeconfig.WithMetrics(),
//	)
//	if err != nil {
//	    return err
//	}
//	ctx = edgeconfig.WithScope(ctx)
//	v, err := client.Get(ctx, "greeting")
//	if err == nil && v.Exists() {
//	    var greeting string
//	    _ = v.Decode(&greeting)
//	}
//
// Values never share memory with cached state: decoding the same Value twice
// yields independent results.
package edgeconfig
