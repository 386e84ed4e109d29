package edgeconfig

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBatchWindow is how long the first missed get or has in a scope waits
// for other reads to join its batch.
const DefaultBatchWindow = time.Millisecond

// batch collects keys requested within one window. wantsValue is true when
// at least one get is waiting on the key; has-only keys can be answered by HEAD.
type batch struct {
	flight
	ctx   context.Context
	keys  map[string]bool
	timer *time.Timer
}

type allCall struct {
	flight
	items Items
}

type digestCall struct {
	flight
	digest string
}

// requestCache memoises and coalesces reads for one (Scope, Client) pair.
// A zero Value in values records a key known to be absent.
type requestCache struct {
	client *Client
	log    zerolog.Logger
	window time.Duration

	mu       sync.Mutex
	values   map[string]Value
	exists   map[string]bool
	complete bool
	pending  *batch
	inflight map[string]*batch
	all      *allCall
	digest   *digestCall
}

func newRequestCache(c *Client, s *Scope) *requestCache {
	return &requestCache{
		client:   c,
		log:      c.log.With().Str("scope", s.ID()).Logger(),
		window:   c.batchWindow,
		values:   make(map[string]Value),
		exists:   make(map[string]bool),
		inflight: make(map[string]*batch),
	}
}

// valueLocked answers get from memory when possible.
func (rc *requestCache) valueLocked(key string) (Value, bool) {
	if v, ok := rc.values[key]; ok {
		return v, true
	}
	if e, ok := rc.exists[key]; ok && !e {
		return Value{}, true
	}
	if rc.complete {
		return Value{}, true
	}
	return Value{}, false
}

// existsLocked answers has from memory when possible.
func (rc *requestCache) existsLocked(key string) (bool, bool) {
	if v, ok := rc.values[key]; ok {
		return v.Exists(), true
	}
	if e, ok := rc.exists[key]; ok {
		return e, true
	}
	if rc.complete {
		return false, true
	}
	return false, false
}

// waitForLocked finds or creates the load that will resolve key.
func (rc *requestCache) waitForLocked(ctx context.Context, key string, wantsValue bool) *flight {
	if rc.all != nil {
		return &rc.all.flight
	}
	if b, ok := rc.inflight[key]; ok {
		return &b.flight
	}
	b := rc.pendingLocked(ctx)
	if wantsValue {
		b.keys[key] = true
	} else if _, ok := b.keys[key]; !ok {
		b.keys[key] = false
	}
	return &b.flight
}

func (rc *requestCache) pendingLocked(ctx context.Context) *batch {
	if rc.pending != nil {
		return rc.pending
	}
	b := &batch{
		flight: newFlight(),
		ctx:    context.WithoutCancel(ctx),
		keys:   make(map[string]bool),
	}
	rc.pending = b
	b.timer = time.AfterFunc(rc.window, func() { rc.dispatch(b) })
	return b
}

func (rc *requestCache) get(ctx context.Context, key string) (Value, error) {
	for attempt := 0; ; attempt++ {
		rc.mu.Lock()
		if v, ok := rc.valueLocked(key); ok {
			rc.mu.Unlock()
			if attempt == 0 {
				rc.client.metrics.RecordMemoHit("get")
			}
			return v, nil
		}
		f := rc.waitForLocked(ctx, key, true)
		rc.mu.Unlock()

		if err := f.Wait(ctx); err != nil {
			return Value{}, err
		}
	}
}

func (rc *requestCache) has(ctx context.Context, key string) (bool, error) {
	for attempt := 0; ; attempt++ {
		rc.mu.Lock()
		if e, ok := rc.existsLocked(key); ok {
			rc.mu.Unlock()
			if attempt == 0 {
				rc.client.metrics.RecordMemoHit("has")
			}
			return e, nil
		}
		f := rc.waitForLocked(ctx, key, false)
		rc.mu.Unlock()

		if err := f.Wait(ctx); err != nil {
			return false, err
		}
	}
}

func (rc *requestCache) getMany(ctx context.Context, keys []string) ([]Value, error) {
	for attempt := 0; ; attempt++ {
		rc.mu.Lock()
		out := make([]Value, len(keys))
		var missing []string
		seen := make(map[string]bool, len(keys))
		for i, k := range keys {
			if v, ok := rc.valueLocked(k); ok {
				out[i] = v
				continue
			}
			if !seen[k] {
				seen[k] = true
				missing = append(missing, k)
			}
		}
		if len(missing) == 0 {
			rc.mu.Unlock()
			if attempt == 0 {
				rc.client.metrics.RecordMemoHit("get_many")
			}
			return out, nil
		}
		if rc.all != nil {
			f := &rc.all.flight
			rc.mu.Unlock()
			if err := f.Wait(ctx); err != nil {
				return nil, err
			}
			continue
		}

		var waits []*flight
		var own *batch
		for _, k := range missing {
			if b, ok := rc.inflight[k]; ok {
				waits = append(waits, &b.flight)
				continue
			}
			if own == nil {
				own = rc.pendingLocked(ctx)
			}
			own.keys[k] = true
		}
		rc.mu.Unlock()

		if own != nil {
			go rc.dispatch(own)
			waits = append(waits, &own.flight)
		}
		for _, f := range waits {
			if err := f.Wait(ctx); err != nil {
				return nil, err
			}
		}
	}
}

func (rc *requestCache) getAll(ctx context.Context) (Items, error) {
	rc.mu.Lock()
	a := rc.all
	if a == nil {
		a = &allCall{flight: newFlight()}
		rc.all = a
		rc.mu.Unlock()
		go rc.loadAll(context.WithoutCancel(ctx), a)
	} else {
		rc.mu.Unlock()
		if a.finished() && a.err == nil {
			rc.client.metrics.RecordMemoHit("get_all")
		}
	}

	if err := a.Wait(ctx); err != nil {
		return nil, err
	}
	return a.items.clone(), nil
}

func (rc *requestCache) loadAll(ctx context.Context, a *allCall) {
	items, err := rc.client.allFn(ctx, struct{}{})
	rc.client.metrics.RecordLoaderBatch("all", len(items))

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if err != nil {
		rc.all = nil
		rc.log.Debug().Err(err).Msg("loading all items failed")
		a.complete(err)
		return
	}
	for k, v := range items {
		rc.values[k] = v
	}
	rc.complete = true
	a.items = items
	a.complete(nil)
}

func (rc *requestCache) getDigest(ctx context.Context) (string, error) {
	rc.mu.Lock()
	d := rc.digest
	if d == nil {
		d = &digestCall{flight: newFlight()}
		rc.digest = d
		rc.mu.Unlock()
		go rc.loadDigest(context.WithoutCancel(ctx), d)
	} else {
		rc.mu.Unlock()
	}

	if err := d.Wait(ctx); err != nil {
		return "", err
	}
	return d.digest, nil
}

func (rc *requestCache) loadDigest(ctx context.Context, d *digestCall) {
	digest, err := rc.client.digestFn(ctx, struct{}{})
	rc.client.metrics.RecordLoaderBatch("digest", 0)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if err != nil {
		rc.digest = nil
		d.complete(err)
		return
	}
	d.digest = digest
	d.complete(nil)
}

// flush dispatches the pending batch, if any, in the calling goroutine.
func (rc *requestCache) flush() {
	rc.mu.Lock()
	b := rc.pending
	rc.mu.Unlock()
	if b == nil {
		return
	}
	rc.dispatch(b)
	<-b.done
}

// dispatch sends b if it is still the pending batch. Later calls are no-ops.
func (rc *requestCache) dispatch(b *batch) {
	rc.mu.Lock()
	if rc.pending != b {
		rc.mu.Unlock()
		return
	}
	rc.pending = nil
	b.timer.Stop()
	keys := make(map[string]bool, len(b.keys))
	for k, wantsValue := range b.keys {
		keys[k] = wantsValue
		rc.inflight[k] = b
	}
	rc.mu.Unlock()

	values, exists, err := rc.load(b.ctx, keys)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	for k := range keys {
		if rc.inflight[k] == b {
			delete(rc.inflight, k)
		}
	}
	if err != nil {
		rc.log.Debug().Err(err).Int("keys", len(keys)).Msg("batch failed")
		b.complete(err)
		return
	}
	for k, v := range values {
		rc.values[k] = v
	}
	for k, e := range exists {
		rc.exists[k] = e
	}
	b.complete(nil)
}

// load resolves one batch with a single remote call.
func (rc *requestCache) load(ctx context.Context, keys map[string]bool) (map[string]Value, map[string]bool, error) {
	if len(keys) == 1 {
		for key, wantsValue := range keys {
			if wantsValue {
				rc.client.metrics.RecordLoaderBatch("item", 1)
				v, err := rc.client.itemFn(ctx, key)
				if err != nil {
					return nil, nil, err
				}
				return map[string]Value{key: v}, nil, nil
			}

			rc.client.metrics.RecordLoaderBatch("head", 1)
			ok, err := rc.client.hasFn(ctx, key)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				return map[string]Value{key: {}}, map[string]bool{key: false}, nil
			}
			return nil, map[string]bool{key: true}, nil
		}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	rc.client.metrics.RecordLoaderBatch("items", len(sorted))
	rc.log.Trace().Strs("keys", sorted).Msg("dispatching batch")
	items, err := rc.client.itemsFn(ctx, sorted)
	if err != nil {
		return nil, nil, err
	}
	values := make(map[string]Value, len(sorted))
	for _, k := range sorted {
		values[k] = items[k]
	}
	return values, nil, nil
}
