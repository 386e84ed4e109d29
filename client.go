package edgeconfig

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client reads one config store. Reads made with a context carrying a Scope
// are memoised and coalesced for that scope; every read goes through a
// conditional-request cache that revalidates with ETags and falls back to the
// last good response when the store fails. It is safe for concurrent use.
type Client struct {
	connection   Connection
	httpClient   *http.Client
	timeout      time.Duration
	middleware   []Middleware
	etags        *ETagCache
	staleIfError time.Duration
	swr          bool
	batchWindow  time.Duration
	environment  string
	embeddedDir  string
	log          zerolog.Logger
	logSet       bool
	metrics      *MetricsCollector

	embedOnce sync.Once
	embedded  *embeddedSnapshot

	itemFn   func(context.Context, string) (Value, error)
	hasFn    func(context.Context, string) (bool, error)
	itemsFn  func(context.Context, []string) (Items, error)
	allFn    func(context.Context, struct{}) (Items, error)
	digestFn func(context.Context, struct{}) (string, error)
}

// New parses connectionString and constructs a Client using the provided
// functional options.
func New(connectionString string, options ...Option) (*Client, error) {
	if connectionString == "" {
		return nil, ErrNoConnectionString
	}
	conn, ok := ParseConnectionString(connectionString)
	if !ok {
		return nil, ErrInvalidConnectionString
	}

	client := &Client{
		connection: conn,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout:      30 * time.Second,
		middleware:   []Middleware{},
		staleIfError: DefaultStaleIfError,
		batchWindow:  DefaultBatchWindow,
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		return nil, err
	}

	if !client.logSet {
		client.log = log.Logger
	}
	client.log = client.log.With().Str("edge_config_id", conn.ID).Logger()
	if client.etags == nil {
		client.etags = NewETagCache(client.staleIfError)
	}
	client.bindLoaders()

	return client, nil
}

// bindLoaders installs the remote operations, optionally behind SWR.
func (c *Client) bindLoaders() {
	c.itemFn = c.fetchItem
	c.hasFn = c.fetchHas
	c.itemsFn = c.fetchItems
	c.allFn = c.fetchAll
	c.digestFn = c.fetchDigest
	if !c.swr {
		return
	}

	logger := c.log
	c.itemFn = SWR(c.itemFn, SWRConfig[Value]{Name: "item", Clone: cloneValue, Logger: &logger, Metrics: c.metrics})
	c.hasFn = SWR(c.hasFn, SWRConfig[bool]{Name: "has", Clone: cloneScalar[bool], Logger: &logger, Metrics: c.metrics})
	c.itemsFn = SWR(c.itemsFn, SWRConfig[Items]{Name: "items", Clone: cloneItems, Logger: &logger, Metrics: c.metrics})
	c.allFn = SWR(c.allFn, SWRConfig[Items]{Name: "all", Clone: cloneItems, Logger: &logger, Metrics: c.metrics})
	c.digestFn = SWR(c.digestFn, SWRConfig[string]{Name: "digest", Clone: cloneScalar[string], Logger: &logger, Metrics: c.metrics})
}

func cloneValue(v Value) (Value, error) { return v, nil }

func cloneItems(it Items) (Items, error) { return it.clone(), nil }

func cloneScalar[T any](v T) (T, error) { return v, nil }

// Connection returns the parsed connection.
func (c *Client) Connection() Connection {
	return c.connection
}

// ETagCache returns the conditional-request cache used by c.
func (c *Client) ETagCache() *ETagCache {
	return c.etags
}

// Get returns the value stored under key. A missing key yields a Value whose
// Exists reports false and a nil error.
func (c *Client) Get(ctx context.Context, key string) (Value, error) {
	if key == "" {
		return Value{}, newValidationError("get", "key must not be empty")
	}
	if snap := c.embeddedSnapshot(); snap != nil {
		c.metrics.RecordEmbeddedRead("get")
		return snap.get(key), nil
	}
	if rc := c.requestCache(ctx); rc != nil {
		return rc.get(ctx, key)
	}
	return c.itemFn(ctx, key)
}

// Has reports whether key exists.
func (c *Client) Has(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, newValidationError("has", "key must not be empty")
	}
	if snap := c.embeddedSnapshot(); snap != nil {
		c.metrics.RecordEmbeddedRead("has")
		return snap.get(key).Exists(), nil
	}
	if rc := c.requestCache(ctx); rc != nil {
		return rc.has(ctx, key)
	}
	return c.hasFn(ctx, key)
}

// GetAll returns every item in the config.
func (c *Client) GetAll(ctx context.Context) (Items, error) {
	if snap := c.embeddedSnapshot(); snap != nil {
		c.metrics.RecordEmbeddedRead("get_all")
		return snap.items.clone(), nil
	}
	if rc := c.requestCache(ctx); rc != nil {
		return rc.getAll(ctx)
	}
	return c.allFn(ctx, struct{}{})
}

// GetMany returns the values for keys in the same order. Missing keys yield
// absent Values.
func (c *Client) GetMany(ctx context.Context, keys []string) ([]Value, error) {
	if len(keys) == 0 {
		return []Value{}, nil
	}
	for _, k := range keys {
		if k == "" {
			return nil, newValidationError("get_many", "key must not be empty")
		}
	}
	if snap := c.embeddedSnapshot(); snap != nil {
		c.metrics.RecordEmbeddedRead("get_many")
		out := make([]Value, len(keys))
		for i, k := range keys {
			out[i] = snap.get(k)
		}
		return out, nil
	}
	if rc := c.requestCache(ctx); rc != nil {
		return rc.getMany(ctx, keys)
	}

	items, err := c.itemsFn(ctx, uniqueSorted(keys))
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(keys))
	for i, k := range keys {
		out[i] = items[k]
	}
	return out, nil
}

// Digest returns the version digest of the whole config.
func (c *Client) Digest(ctx context.Context) (string, error) {
	if snap := c.embeddedSnapshot(); snap != nil {
		c.metrics.RecordEmbeddedRead("digest")
		return snap.Digest, nil
	}
	if rc := c.requestCache(ctx); rc != nil {
		return rc.getDigest(ctx)
	}
	return c.digestFn(ctx, struct{}{})
}

func (c *Client) requestCache(ctx context.Context) *requestCache {
	s := ScopeFromContext(ctx)
	if s == nil {
		return nil
	}
	return s.loader(c)
}

func uniqueSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
