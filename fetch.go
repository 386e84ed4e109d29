package edgeconfig

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

func (c *Client) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.connection.Token)
	req.Header.Set("x-edge-config-sdk", sdkHeaderValue())
	if c.environment != "" {
		req.Header.Set("x-edge-config-vercel-env", c.environment)
	}
	if c.staleIfError > 0 {
		req.Header.Set("Cache-Control", "stale-if-error="+strconv.Itoa(int(c.staleIfError/time.Second)))
	}
	return req, nil
}

// do sends req through the middleware chain and the conditional-request cache.
func (c *Client) do(op, key string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	c.metrics.RecordRequestStart(op)
	defer c.metrics.RecordRequestEnd(op)

	c.log.Trace().Str("op", op).Str("method", req.Method).Str("url", req.URL.String()).Msg("requesting")

	resp, err := c.etags.Do(RoundTripperFunc(c.executeMiddleware), req)
	c.metrics.RecordETagCacheSize(c.etags.Len())
	if err != nil {
		c.metrics.RecordRequest(op, req.Method, 0, time.Since(start))
		c.metrics.RecordError(ErrorTypeNetwork, op)
		c.log.Debug().Err(err).Str("op", op).Str("key", key).Msg("request failed")
		return nil, newNetworkError(op, key, req, err)
	}
	c.metrics.RecordRequest(op, req.Method, resp.StatusCode, time.Since(start))

	switch resp.Header.Get(CacheStatusHeader) {
	case CacheStatusRevalidated:
		c.metrics.RecordRevalidation(true)
		c.log.Debug().Str("op", op).Str("key", key).Msg("revalidated cached response")
	case CacheStatusStale:
		c.metrics.RecordStaleServed("http")
		c.log.Warn().Str("op", op).Str("key", key).Msg("store unavailable, serving stale response")
	}
	return resp, nil
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

func (c *Client) statusError(op, key string, resp *http.Response) error {
	c.metrics.RecordError(ErrorTypeUnexpected, op)
	return newStatusError(op, key, resp)
}

func (c *Client) decodeError(op, key string, err error) error {
	c.metrics.RecordError(ErrorTypeDecode, op)
	return newDecodeError(op, key, err)
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) fetchItem(ctx context.Context, key string) (Value, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.connection.endpoint("/item/"+url.PathEscape(key)))
	if err != nil {
		return Value{}, err
	}
	resp, err := c.do("get", key, req)
	if err != nil {
		return Value{}, err
	}
	if resp.StatusCode == http.StatusNotFound {
		discardBody(resp)
		return Value{}, nil
	}
	if !isSuccess(resp) {
		discardBody(resp)
		return Value{}, c.statusError("get", key, resp)
	}

	body, err := readBody(resp)
	if err != nil {
		return Value{}, newNetworkError("get", key, req, err)
	}
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return Value{}, c.decodeError("get", key, errors.New("body is not valid JSON"))
	}
	return newValue(body), nil
}

func (c *Client) fetchHas(ctx context.Context, key string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodHead, c.connection.endpoint("/item/"+url.PathEscape(key)))
	if err != nil {
		return false, err
	}
	resp, err := c.do("has", key, req)
	if err != nil {
		return false, err
	}
	discardBody(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case isSuccess(resp):
		return true, nil
	default:
		return false, c.statusError("has", key, resp)
	}
}

// fetchItems returns the requested keys, or every item when keys is empty.
func (c *Client) fetchItems(ctx context.Context, keys []string) (Items, error) {
	op := "get_many"
	if len(keys) == 0 {
		op = "get_all"
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.connection.endpoint("/items", keys...))
	if err != nil {
		return nil, err
	}
	resp, err := c.do(op, "", req)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp) {
		discardBody(resp)
		return nil, c.statusError(op, "", resp)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, newNetworkError(op, "", req, err)
	}
	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, c.decodeError(op, "", err)
	}
	return itemsFromRaw(raw), nil
}

func (c *Client) fetchAll(ctx context.Context, _ struct{}) (Items, error) {
	return c.fetchItems(ctx, nil)
}

func (c *Client) fetchDigest(ctx context.Context, _ struct{}) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.connection.endpoint("/digest"))
	if err != nil {
		return "", err
	}
	resp, err := c.do("digest", "", req)
	if err != nil {
		return "", err
	}
	if !isSuccess(resp) {
		discardBody(resp)
		return "", c.statusError("digest", "", resp)
	}

	body, err := readBody(resp)
	if err != nil {
		return "", newNetworkError("digest", "", req, err)
	}
	var digest string
	if err := json.Unmarshal(body, &digest); err != nil {
		return "", c.decodeError("digest", "", err)
	}
	return digest, nil
}
