package beeodm

import (
	"context"
	"sync"
)

type Meta map[string]string

func (m Meta) Get(key string) string {
	return m[key]
}

// Context is a per request handle on the engine. References resolve through it.
type Context interface {
	Ctx() context.Context
	Clone() Context
	Engine() Engine
	RegisterQueryLogger(handler LogHandler, mysql, redis, local bool)
	EnableQueryDebug()
	EnableQueryDebugCustom(mysql, redis, local bool)
	SetMetaData(key, value string)
	GetMetaData() Meta
	getDBLoggers() (bool, []LogHandler)
	getRedisLoggers() (bool, []LogHandler)
	getLocalCacheLoggers() (bool, []LogHandler)
	getEngine() *engineImplementation
}

type contextImplementation struct {
	parent                 context.Context
	engine                 *engineImplementation
	queryLoggersDB         []LogHandler
	queryLoggersRedis      []LogHandler
	queryLoggersLocalCache []LogHandler
	hasRedisLogger         bool
	hasDBLogger            bool
	hasLocalCacheLogger    bool
	meta                   Meta
	mutex                  sync.Mutex
}

func (c *contextImplementation) Ctx() context.Context {
	return c.parent
}

func (c *contextImplementation) Clone() Context {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return &contextImplementation{
		parent:                 c.parent,
		engine:                 c.engine,
		queryLoggersDB:         c.queryLoggersDB,
		queryLoggersRedis:      c.queryLoggersRedis,
		queryLoggersLocalCache: c.queryLoggersLocalCache,
		hasRedisLogger:         c.hasRedisLogger,
		hasDBLogger:            c.hasDBLogger,
		hasLocalCacheLogger:    c.hasLocalCacheLogger,
		meta:                   c.copyMeta(),
	}
}

func (c *contextImplementation) Engine() Engine {
	return c.engine
}

func (c *contextImplementation) getEngine() *engineImplementation {
	return c.engine
}

func (c *contextImplementation) SetMetaData(key, value string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.meta == nil {
		c.meta = Meta{key: value}
		return
	}
	c.meta[key] = value
}

// GetMetaData returns copy of meta data.
func (c *contextImplementation) GetMetaData() Meta {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.copyMeta()
}

// copyMeta returns nil for empty meta. Caller holds mutex.
func (c *contextImplementation) copyMeta() Meta {
	if len(c.meta) == 0 {
		return nil
	}
	meta := make(Meta, len(c.meta))
	for k, v := range c.meta {
		meta[k] = v
	}
	return meta
}

func (c *contextImplementation) getRedisLoggers() (bool, []LogHandler) {
	if c.hasRedisLogger {
		return true, c.queryLoggersRedis
	}
	return false, nil
}

func (c *contextImplementation) getDBLoggers() (bool, []LogHandler) {
	if c.hasDBLogger {
		return true, c.queryLoggersDB
	}
	return false, nil
}

func (c *contextImplementation) getLocalCacheLoggers() (bool, []LogHandler) {
	if c.hasLocalCacheLogger {
		return true, c.queryLoggersLocalCache
	}
	return false, nil
}
