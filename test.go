package beeodm

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type MockLogHandler struct {
	Logs  []map[string]interface{}
	mutex sync.Mutex
}

func (h *MockLogHandler) Handle(_ Context, log map[string]interface{}) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.Logs = append(h.Logs, log)
}

func (h *MockLogHandler) Clear() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.Logs = nil
}

// FetchCall is one batch recorded by CountingFetcher.
type FetchCall struct {
	Collection string
	IDs        []any
}

// CountingFetcher records batches passed to wrapped fetcher.
type CountingFetcher struct {
	Fetcher BatchFetcher
	Calls   []FetchCall
	mutex   sync.Mutex
}

func (f *CountingFetcher) FetchByIDs(c Context, collection string, ids []any) (map[any]any, error) {
	f.mutex.Lock()
	f.Calls = append(f.Calls, FetchCall{Collection: collection, IDs: append([]any(nil), ids...)})
	f.mutex.Unlock()
	return f.Fetcher.FetchByIDs(c, collection, ids)
}

func (f *CountingFetcher) Count() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.Calls)
}

func (f *CountingFetcher) Clear() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.Calls = nil
}

// PrepareEngine validates registry with entities and returns fresh context. Memory
// stores and local caches start empty.
func PrepareEngine(t *testing.T, registry *Registry, entities ...any) Context {
	registry.RegisterEntity(entities...)
	engine, err := registry.Validate()
	if err != nil {
		if t != nil {
			assert.NoError(t, err)
			return nil
		}
		panic(err)
	}
	c := engine.NewContext(context.Background())
	implementation := c.getEngine()
	for _, store := range implementation.memoryStores {
		store.Clear()
	}
	for _, cache := range implementation.localCaches {
		cache.Clear(c)
	}
	return c
}

// PrepareCountingEngine works like PrepareEngine and records every batch fetch.
func PrepareCountingEngine(t *testing.T, registry *Registry, entities ...any) (Context, *CountingFetcher) {
	c := PrepareEngine(t, registry, entities...)
	if c == nil {
		return nil, nil
	}
	implementation := c.getEngine()
	counter := &CountingFetcher{Fetcher: implementation.fetcher}
	implementation.fetcher = counter
	return c, counter
}
