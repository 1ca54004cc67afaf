package beeodm

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/fasthash/fnv1a"
)

type RedisPoolConfig interface {
	GetCode() string
	GetDatabase() int
	GetAddress() string
	GetNamespace() string
	HasNamespace() bool
}

type redisPoolConfig struct {
	code      string
	options   *redis.Options
	db        int
	address   string
	namespace string
}

func (p *redisPoolConfig) GetCode() string {
	return p.code
}

func (p *redisPoolConfig) GetDatabase() int {
	return p.db
}

func (p *redisPoolConfig) GetAddress() string {
	return p.address
}

func (p *redisPoolConfig) GetNamespace() string {
	return p.namespace
}

func (p *redisPoolConfig) HasNamespace() bool {
	return p.namespace != ""
}

// RedisStore keeps every document under its own key. One batch is one MGET.
type RedisStore struct {
	config *redisPoolConfig
	client *redis.Client
}

func (r *RedisStore) GetConfig() RedisPoolConfig {
	return r.config
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func (r *RedisStore) Find(c Context, collection string, ids []string) (Cursor, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.documentKey(collection, id)
	}
	entry, loggers := r.newLog(c, "MGET", collection, len(ids))
	values, err := r.client.MGet(c.Ctx(), keys...).Result()
	documents := make([]Document, 0, len(values))
	for i, value := range values {
		if value == nil {
			continue
		}
		asString, isString := value.(string)
		if !isString {
			continue
		}
		documents = append(documents, Document{ID: ids[i], Data: []byte(asString)})
	}
	entry.done(c, loggers, "MGET "+strings.Join(keys, " "), len(documents) < len(ids), err)
	if err != nil {
		return nil, errors.Wrapf(err, "redis pool '%s'", r.config.code)
	}
	return newDocumentCursor(documents), nil
}

func (r *RedisStore) Save(c Context, collection string, documents []Document) error {
	if len(documents) == 0 {
		return nil
	}
	pairs := make([]any, 0, len(documents)*2)
	for _, document := range documents {
		pairs = append(pairs, r.documentKey(collection, document.ID), document.Data)
	}
	entry, loggers := r.newLog(c, "MSET", collection, len(documents))
	_, err := r.client.MSet(c.Ctx(), pairs...).Result()
	entry.done(c, loggers, "MSET "+collection+" "+strconv.Itoa(len(documents))+" documents", false, err)
	return errors.Wrapf(err, "redis pool '%s'", r.config.code)
}

func (r *RedisStore) Remove(c Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.documentKey(collection, id)
	}
	entry, loggers := r.newLog(c, "DEL", collection, len(ids))
	_, err := r.client.Del(c.Ctx(), keys...).Result()
	entry.done(c, loggers, "DEL "+strings.Join(keys, " "), false, err)
	return errors.Wrapf(err, "redis pool '%s'", r.config.code)
}

func (r *RedisStore) FlushDB(c Context) error {
	entry, loggers := r.newLog(c, "FLUSHDB", "", 0)
	_, err := r.client.FlushDB(c.Ctx()).Result()
	entry.done(c, loggers, "FLUSHDB", false, err)
	return errors.Wrapf(err, "redis pool '%s'", r.config.code)
}

// Ping checks connection, waiting at most timeout.
func (r *RedisStore) Ping(c Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(c.Ctx(), timeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) documentKey(collection, id string) string {
	key := collectionKeyPrefix(collection) + ":" + id
	if r.config.namespace != "" {
		return r.config.namespace + ":" + key
	}
	return key
}

func (r *RedisStore) newLog(c Context, operation, collection string, batch int) (*queryLog, []LogHandler) {
	hasLogger, loggers := c.getRedisLoggers()
	if !hasLogger {
		return nil, nil
	}
	return newQueryLog(sourceRedis, r.config.code, operation, collection, batch, true), loggers
}

func collectionKeyPrefix(collection string) string {
	return strconv.FormatUint(uint64(fnv1a.HashString32(collection)), 36)
}
