package edgeconfig

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CacheStatusHeader is set on responses that did not come straight from the
// network: "revalidated" after a 304, "stale" when stale-if-error kicked in.
const CacheStatusHeader = "X-Edge-Config-Cache"

const (
	CacheStatusRevalidated = "revalidated"
	CacheStatusStale       = "stale"
)

// DefaultStaleIfError is how long a remembered body may be served when the
// upstream fails.
const DefaultStaleIfError = 604800 * time.Second

// ETagCache remembers the last tagged response for each (URL, Authorization)
// pair, revalidates it with If-None-Match and falls back to it when the
// upstream is unreachable or returns a 5xx. Safe for concurrent use.
//
// Only GET responses are stored. Other methods reuse the GET entry for the
// same URL for revalidation and stale fallback but never overwrite it.
type ETagCache struct {
	entries      *entryStore
	staleIfError time.Duration
	now          func() time.Time
}

// NewETagCache creates a cache serving stale bodies for up to staleIfError
// after they were last confirmed. Zero disables stale serving.
func NewETagCache(staleIfError time.Duration) *ETagCache {
	return &ETagCache{
		entries:      newEntryStore(),
		staleIfError: staleIfError,
		now:          time.Now,
	}
}

// Len returns the number of remembered responses.
func (c *ETagCache) Len() int {
	return c.entries.len()
}

// Clear forgets every remembered response.
func (c *ETagCache) Clear() {
	c.entries.clear()
}

// StaleIfError returns the stale serving window.
func (c *ETagCache) StaleIfError() time.Duration {
	return c.staleIfError
}

func etagCacheKey(req *http.Request) string {
	return req.URL.String() + "," + req.Header.Get("Authorization")
}

// Do sends req through rt, attaching If-None-Match when a tagged response for
// the same URL and credentials is remembered.
func (c *ETagCache) Do(rt RoundTripper, req *http.Request) (*http.Response, error) {
	key := etagCacheKey(req)
	cached, ok := c.entries.get(key)
	if !ok {
		resp, err := rt.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if err := c.remember(key, req, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}

	conditional := req.Clone(req.Context())
	conditional.Header.Set("If-None-Match", cached.etag)

	resp, err := rt.RoundTrip(conditional)
	if err != nil {
		if c.canServeStale(cached) {
			return cached.response(req, http.StatusOK, cached.header, CacheStatusStale), nil
		}
		return nil, err
	}

	switch {
	case isNotModified(resp):
		discardBody(resp)
		if req.Method == http.MethodGet {
			c.entries.set(key, cacheEntry{
				etag:     cached.etag,
				body:     cached.body,
				header:   cached.header,
				storedAt: c.now(),
			})
		}
		return cached.response(req, http.StatusNotModified, resp.Header, CacheStatusRevalidated), nil
	case resp.StatusCode >= http.StatusInternalServerError && c.canServeStale(cached):
		discardBody(resp)
		return cached.response(req, http.StatusOK, cached.header, CacheStatusStale), nil
	}

	if err := c.remember(key, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// remember stores a tagged 2xx GET response and restores its body for the caller.
func (c *ETagCache) remember(key string, req *http.Request, resp *http.Response) error {
	if req.Method != http.MethodGet {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read tagged response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	c.entries.set(key, cacheEntry{
		etag:     etag,
		body:     body,
		header:   resp.Header.Clone(),
		storedAt: c.now(),
	})
	return nil
}

func (c *ETagCache) canServeStale(entry cacheEntry) bool {
	return c.staleIfError > 0 && c.now().Sub(entry.storedAt) <= c.staleIfError
}

func (e cacheEntry) response(req *http.Request, status int, header http.Header, cacheStatus string) *http.Response {
	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set(CacheStatusHeader, cacheStatus)
	h.Del("Content-Length")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.body)),
		ContentLength: int64(len(e.body)),
		Request:       req,
	}
}

func isNotModified(resp *http.Response) bool {
	return resp.StatusCode == http.StatusNotModified
}

func discardBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// isSuccess treats a revalidated 304 as success: its body is the remembered one.
func isSuccess(resp *http.Response) bool {
	return (resp.StatusCode >= 200 && resp.StatusCode < 300) || isNotModified(resp)
}
