package beeodm

import (
	"fmt"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/hashicorp/go-multierror"
)

type LocalCachePoolConfig interface {
	GetCode() string
	GetLimit() int
}

type localCachePoolConfig struct {
	code  string
	limit int
}

func (p *localCachePoolConfig) GetCode() string {
	return p.code
}

func (p *localCachePoolConfig) GetLimit() int {
	return p.limit
}

func newLocalCacheConfig(dbCode string, limit int) *localCachePoolConfig {
	return &localCachePoolConfig{code: dbCode, limit: limit}
}

func newLocalCache(config *localCachePoolConfig) *LocalCache {
	return &LocalCache{config: config, lru: lru.New(config.limit)}
}

// LocalCache is an in process LRU cache of encoded documents shared by all contexts
// of one engine.
type LocalCache struct {
	config *localCachePoolConfig
	lru    *lru.Cache
	mutex  sync.Mutex
}

func (lc *LocalCache) GetPoolConfig() LocalCachePoolConfig {
	return lc.config
}

func (lc *LocalCache) Get(c Context, key string) (value []byte, ok bool) {
	func() {
		lc.mutex.Lock()
		defer lc.mutex.Unlock()
		var cached interface{}
		cached, ok = lc.lru.Get(key)
		if ok {
			value = cached.([]byte)
		}
	}()
	hasLog, _ := c.getLocalCacheLoggers()
	if hasLog {
		lc.log(c, "GET", "GET "+key, !ok)
	}
	return
}

func (lc *LocalCache) Set(c Context, key string, value []byte) {
	func() {
		lc.mutex.Lock()
		defer lc.mutex.Unlock()
		lc.lru.Add(key, value)
	}()
	hasLog, _ := c.getLocalCacheLoggers()
	if hasLog {
		lc.log(c, "SET", fmt.Sprintf("SET %s %d bytes", key, len(value)), false)
	}
}

func (lc *LocalCache) Remove(c Context, keys ...string) {
	func() {
		lc.mutex.Lock()
		defer lc.mutex.Unlock()
		for _, key := range keys {
			lc.lru.Remove(key)
		}
	}()
	hasLog, _ := c.getLocalCacheLoggers()
	if hasLog {
		lc.log(c, "REMOVE", fmt.Sprintf("REMOVE %v", keys), false)
	}
}

func (lc *LocalCache) Clear(c Context) {
	func() {
		lc.mutex.Lock()
		defer lc.mutex.Unlock()
		lc.lru.Clear()
	}()
	hasLog, _ := c.getLocalCacheLoggers()
	if hasLog {
		lc.log(c, "CLEAR", "CLEAR", false)
	}
}

func (lc *LocalCache) GetObjectsCount() int {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()
	return lc.lru.Len()
}

func (lc *LocalCache) putDocuments(c Context, collection string, documents []Document) {
	for _, document := range documents {
		lc.Set(c, documentCacheKey(collection, document.ID), document.Data)
	}
}

func (lc *LocalCache) removeDocuments(c Context, collection string, ids []string) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = documentCacheKey(collection, id)
	}
	lc.Remove(c, keys...)
}

func (lc *LocalCache) log(c Context, operation, query string, cacheMiss bool) {
	_, loggers := c.getLocalCacheLoggers()
	entry := newQueryLog(sourceLocalCache, lc.config.GetCode(), operation, "", 0, false)
	entry.query = query
	entry.miss = cacheMiss
	entry.send(c, loggers)
}

func documentCacheKey(collection, id string) string {
	return collection + ":" + id
}

// cachedSource serves documents from local cache and asks wrapped source only for
// misses. Documents read from wrapped source are cached while iterating.
type cachedSource struct {
	cache  *LocalCache
	source DocumentSource
}

func (s *cachedSource) Find(c Context, collection string, ids []string) (Cursor, error) {
	hits := make([]Document, 0, len(ids))
	var misses []string
	for _, id := range ids {
		data, has := s.cache.Get(c, documentCacheKey(collection, id))
		if has {
			hits = append(hits, Document{ID: id, Data: data})
		} else {
			misses = append(misses, id)
		}
	}
	cursor := &cachedCursor{hits: newDocumentCursor(hits), c: c, cache: s.cache, collection: collection}
	if len(misses) > 0 {
		inner, err := s.source.Find(c, collection, misses)
		if err != nil {
			return nil, err
		}
		cursor.inner = inner
	}
	return cursor, nil
}

type cachedCursor struct {
	c          Context
	cache      *LocalCache
	collection string
	hits       *documentCursor
	inner      Cursor
	fromInner  bool
}

func (c *cachedCursor) Next() bool {
	if !c.fromInner {
		if c.hits.Next() {
			return true
		}
		c.fromInner = true
	}
	if c.inner == nil || !c.inner.Next() {
		return false
	}
	document := c.inner.Document()
	c.cache.Set(c.c, documentCacheKey(c.collection, document.ID), document.Data)
	return true
}

func (c *cachedCursor) Document() Document {
	if c.fromInner {
		return c.inner.Document()
	}
	return c.hits.Document()
}

func (c *cachedCursor) Err() error {
	if c.inner != nil {
		return c.inner.Err()
	}
	return nil
}

func (c *cachedCursor) Close() error {
	var result error
	if err := c.hits.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.inner != nil {
		if err := c.inner.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
