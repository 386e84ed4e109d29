package edgeconfig

import (
	"hash/fnv"
	"net/http"
	"sync"
	"time"
)

const numCacheShards = 16

// cacheEntry is one remembered response. Entries are immutable once stored;
// a newer response replaces the whole value.
type cacheEntry struct {
	etag     string
	body     []byte
	header   http.Header
	storedAt time.Time
}

type entryStore struct {
	shards []*cacheShard
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
}

func newEntryStore() *entryStore {
	shards := make([]*cacheShard, numCacheShards)
	for i := range shards {
		shards[i] = &cacheShard{
			store: make(map[string]cacheEntry),
		}
	}
	return &entryStore{shards: shards}
}

func (s *entryStore) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return s.shards[hash.Sum32()%uint32(len(s.shards))]
}

func (s *entryStore) get(key string) (cacheEntry, bool) {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, exists := shard.store[key]
	return entry, exists
}

func (s *entryStore) set(key string, entry cacheEntry) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.store[key] = entry
}

func (s *entryStore) len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		n += len(shard.store)
		shard.mu.RUnlock()
	}
	return n
}

func (s *entryStore) clear() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.store = make(map[string]cacheEntry)
		shard.mu.Unlock()
	}
}
