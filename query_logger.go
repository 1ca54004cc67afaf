package beeodm

import (
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	sourceMySQL      = "mysql"
	sourceRedis      = "redis"
	sourceLocalCache = "local_cache"
	sourceMemory     = "memory"
)

var sourceColors = map[string]string{
	sourceMySQL:      "\x1b[38;2;2;117;143m",
	sourceRedis:      "\x1b[38;2;191;56;42m",
	sourceLocalCache: "\x1b[38;2;254;147;51m",
	sourceMemory:     "\x1b[38;2;120;120;120m",
}

const (
	colorReset = "\x1b[0m"
	colorError = "\x1b[38;2;191;46;42m"
)

// LogHandler receives one map per store or cache operation. Keys: source, pool,
// operation, query, and when known collection, batch, miss, meta, microseconds,
// started, finished, error.
type LogHandler interface {
	Handle(c Context, log map[string]interface{})
}

type defaultLogLogger struct {
	maxPoolLen int
	logger     *log.Logger
}

func (d *defaultLogLogger) Handle(_ Context, fields map[string]interface{}) {
	source, _ := fields["source"].(string)
	var row strings.Builder
	fmt.Fprintf(&row, "%s[beeodm] %-11s %-*v%s %-8v", sourceColors[source], source, d.maxPoolLen, fields["pool"], colorReset, fields["operation"])
	if microseconds, has := fields["microseconds"].(int64); has {
		fmt.Fprintf(&row, " %7.2fms", float64(microseconds)/1000)
	}
	if collection, has := fields["collection"]; has {
		fmt.Fprintf(&row, " %v[%v]", collection, fields["batch"])
	}
	if _, miss := fields["miss"]; miss {
		row.WriteString(" miss")
	}
	fmt.Fprintf(&row, " %v", fields["query"])
	if err, has := fields["error"]; has {
		fmt.Fprintf(&row, "\n%s%v%s", colorError, err, colorReset)
	}
	d.logger.Print(row.String())
}

func (c *contextImplementation) RegisterQueryLogger(handler LogHandler, mysql, redis, local bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if mysql {
		c.hasDBLogger = true
		c.queryLoggersDB = appendLog(c.queryLoggersDB, handler)
	}
	if redis {
		c.hasRedisLogger = true
		c.queryLoggersRedis = appendLog(c.queryLoggersRedis, handler)
	}
	if local {
		c.hasLocalCacheLogger = true
		c.queryLoggersLocalCache = appendLog(c.queryLoggersLocalCache, handler)
	}
}

func (c *contextImplementation) EnableQueryDebug() {
	c.EnableQueryDebugCustom(true, true, true)
}

func (c *contextImplementation) EnableQueryDebugCustom(mysql, redis, local bool) {
	c.RegisterQueryLogger(c.engine.defaultQueryLogger, mysql, redis, local)
}

func appendLog(logs []LogHandler, toAdd LogHandler) []LogHandler {
	for _, v := range logs {
		if v == toAdd {
			return logs
		}
	}
	return append(logs, toAdd)
}

// queryLog is one operation of a store or cache. Collection and batch are empty for
// operations that touch no single collection.
type queryLog struct {
	source     string
	pool       string
	operation  string
	collection string
	batch      int
	query      string
	start      *time.Time
	miss       bool
	err        error
}

func newQueryLog(source, pool, operation, collection string, batch int, timed bool) *queryLog {
	entry := &queryLog{source: source, pool: pool, operation: operation, collection: collection, batch: batch}
	if timed {
		now := time.Now()
		entry.start = &now
	}
	return entry
}

func (l *queryLog) send(c Context, handlers []LogHandler) {
	fields := map[string]interface{}{
		"operation": l.operation,
		"query":     l.query,
		"pool":      l.pool,
		"source":    l.source,
	}
	if l.collection != "" {
		fields["collection"] = l.collection
		fields["batch"] = l.batch
	}
	if l.miss {
		fields["miss"] = "TRUE"
	}
	if meta := c.GetMetaData(); len(meta) > 0 {
		fields["meta"] = meta
	}
	if l.start != nil {
		now := time.Now()
		fields["microseconds"] = now.Sub(*l.start).Microseconds()
		fields["started"] = l.start.UnixNano()
		fields["finished"] = now.UnixNano()
	}
	if l.err != nil {
		fields["error"] = l.err.Error()
	}
	for _, handler := range handlers {
		handler.Handle(c, fields)
	}
}

// done records outcome and sends entry. Nil entry means no loggers are registered.
func (l *queryLog) done(c Context, handlers []LogHandler, query string, miss bool, err error) {
	if l == nil {
		return
	}
	l.query = query
	l.miss = miss
	l.err = err
	l.send(c, handlers)
}
