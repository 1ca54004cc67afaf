package beeodm

import (
	"bytes"
	"context"
	"log"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type cachedAuthor struct {
	ID   uint64 `orm:"collection=cached_authors;localCache"`
	Name string
}

func TestLocalCacheSource(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterLocalCache(100)
	c := PrepareEngine(t, registry, &cachedAuthor{})
	engine := c.Engine()
	assert.NoError(t, engine.Save(c, &cachedAuthor{ID: 1, Name: "Tom"}, &cachedAuthor{ID: 2, Name: "Ann"}))
	assert.Equal(t, 2, engine.LocalCache().GetObjectsCount())
	assert.Equal(t, 100, engine.LocalCache().GetPoolConfig().GetLimit())

	engine.MemoryStore().Clear()
	handler := &MockLogHandler{}
	c.RegisterQueryLogger(handler, false, false, true)
	authors, err := NewListReference[*cachedAuthor](2, 1).Get(c)
	assert.NoError(t, err)
	assert.Len(t, authors, 2)
	assert.Equal(t, "Ann", authors[0].Name)
	assert.Len(t, handler.Logs, 2)
	assert.Equal(t, "local_cache", handler.Logs[0]["source"])
	assert.Equal(t, "GET", handler.Logs[0]["operation"])
	assert.Equal(t, "default", handler.Logs[0]["pool"])
	assert.NotContains(t, handler.Logs[0], "miss")

	err = engine.MemoryStore().Save(c, "cached_authors", []Document{{ID: "3", Data: []byte(`{"ID":3,"Name":"Bob"}`)}})
	assert.NoError(t, err)
	handler.Clear()
	c.SetMetaData("request", "42")
	author, err := NewSingleReference[*cachedAuthor](3).Get(c)
	assert.NoError(t, err)
	assert.Equal(t, "Bob", author.Name)
	operations := make([]string, len(handler.Logs))
	for i, entry := range handler.Logs {
		operations[i] = entry["operation"].(string)
	}
	assert.Equal(t, []string{"GET", "FIND", "SET"}, operations)
	assert.Equal(t, "TRUE", handler.Logs[0]["miss"])
	assert.Equal(t, "memory", handler.Logs[1]["source"])
	assert.Equal(t, "cached_authors", handler.Logs[1]["collection"])
	assert.Equal(t, 1, handler.Logs[1]["batch"])
	assert.NotContains(t, handler.Logs[0], "collection")
	assert.Equal(t, Meta{"request": "42"}, handler.Logs[1]["meta"])
	assert.Equal(t, 3, engine.LocalCache().GetObjectsCount())

	assert.NoError(t, engine.Delete(c, &cachedAuthor{ID: 3}))
	assert.Equal(t, 2, engine.LocalCache().GetObjectsCount())
	engine.LocalCache().Clear(c)
	assert.Equal(t, 0, engine.LocalCache().GetObjectsCount())
}

func TestEngineStores(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterMemoryStore("second")
	registry.RegisterLocalCache(10, "small")
	c := PrepareEngine(t, registry)
	engine := c.Engine()
	assert.Equal(t, "default", engine.MemoryStore().GetCode())
	assert.Equal(t, "second", engine.MemoryStore("second").GetCode())
	assert.NotNil(t, engine.LocalCache("small"))
	assert.Nil(t, engine.LocalCache())
	assert.Nil(t, engine.Redis())
	assert.Nil(t, engine.MySQL())
	assert.NotNil(t, engine.PointerCodec())
	assert.NotNil(t, engine.BatchFetcher())
}

func TestContext(t *testing.T) {
	c, _ := prepareAuthors(t)
	assert.Equal(t, context.Background(), c.Ctx())
	assert.NotNil(t, c.Engine())
	assert.Nil(t, c.GetMetaData())
	c.SetMetaData("user", "7")
	handler := &MockLogHandler{}
	c.RegisterQueryLogger(handler, true, true, true)
	c.RegisterQueryLogger(handler, true, true, true)
	has, loggers := c.getDBLoggers()
	assert.True(t, has)
	assert.Len(t, loggers, 1)

	clone := c.Clone()
	assert.Equal(t, "7", clone.GetMetaData().Get("user"))
	clone.SetMetaData("user", "8")
	assert.Equal(t, "7", c.GetMetaData().Get("user"))
	meta := c.GetMetaData()
	meta["user"] = "9"
	assert.Equal(t, "7", c.GetMetaData().Get("user"))
	has, _ = clone.getRedisLoggers()
	assert.True(t, has)

	fresh := c.Engine().NewContext(nil)
	assert.NotNil(t, fresh.Ctx())
	has, _ = fresh.getLocalCacheLoggers()
	assert.False(t, has)
	fresh.EnableQueryDebug()
	has, loggers = fresh.getLocalCacheLoggers()
	assert.True(t, has)
	assert.Len(t, loggers, 1)
}

func TestDefaultLogLogger(t *testing.T) {
	c, _ := prepareAuthors(t)
	var buffer bytes.Buffer
	logger := &defaultLogLogger{maxPoolLen: 7, logger: log.New(&buffer, "", 0)}
	logger.Handle(c, map[string]interface{}{
		"source":       sourceMemory,
		"pool":         "default",
		"operation":    "FIND",
		"query":        "FIND authors 1 2",
		"collection":   "authors",
		"batch":        2,
		"miss":         "TRUE",
		"microseconds": int64(120),
		"error":        "broken",
	})
	assert.Contains(t, buffer.String(), "FIND authors 1 2")
	assert.Contains(t, buffer.String(), "authors[2] miss")
	assert.Contains(t, buffer.String(), "0.12ms")
	assert.Contains(t, buffer.String(), "broken")
	assert.Contains(t, buffer.String(), "default")
}

func TestContextMetaConcurrent(t *testing.T) {
	c, _ := prepareAuthors(t, "Tom")
	handler := &MockLogHandler{}
	c.RegisterQueryLogger(handler, false, false, true)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.SetMetaData("worker", strconv.Itoa(i))
			_, err := NewSingleReference[*refAuthor](1).Get(c)
			assert.NoError(t, err)
			assert.NotEmpty(t, c.GetMetaData().Get("worker"))
		}(i)
	}
	wg.Wait()
	assert.Len(t, handler.Logs, 10)
}
