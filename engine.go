package beeodm

import (
	"context"

	"github.com/pkg/errors"
)

type Engine interface {
	NewContext(parent context.Context) Context
	Registry() ValidatedRegistry
	PointerCodec() PointerCodec
	BatchFetcher() BatchFetcher
	MemoryStore(code ...string) *MemoryStore
	Redis(code ...string) *RedisStore
	MySQL(code ...string) *MySQLStore
	LocalCache(code ...string) *LocalCache
	// Save writes entities into the stores declared by their schemas.
	Save(c Context, entities ...any) error
	Delete(c Context, entities ...any) error
}

type engineImplementation struct {
	registry           *validatedRegistry
	codec              PointerCodec
	fetcher            BatchFetcher
	memoryStores       map[string]*MemoryStore
	redisStores        map[string]*RedisStore
	mysqlStores        map[string]*MySQLStore
	localCaches        map[string]*LocalCache
	defaultQueryLogger LogHandler
}

func (e *engineImplementation) NewContext(parent context.Context) Context {
	if parent == nil {
		parent = context.Background()
	}
	return &contextImplementation{parent: parent, engine: e}
}

func (e *engineImplementation) Registry() ValidatedRegistry {
	return e.registry
}

func (e *engineImplementation) PointerCodec() PointerCodec {
	return e.codec
}

func (e *engineImplementation) BatchFetcher() BatchFetcher {
	return e.fetcher
}

func (e *engineImplementation) MemoryStore(code ...string) *MemoryStore {
	return e.memoryStores[poolCode(code)]
}

func (e *engineImplementation) Redis(code ...string) *RedisStore {
	return e.redisStores[poolCode(code)]
}

func (e *engineImplementation) MySQL(code ...string) *MySQLStore {
	return e.mysqlStores[poolCode(code)]
}

func (e *engineImplementation) LocalCache(code ...string) *LocalCache {
	return e.localCaches[poolCode(code)]
}

func (e *engineImplementation) Save(c Context, entities ...any) error {
	return e.eachByCollection(entities, func(schema *entitySchema, group []any) error {
		for _, entity := range group {
			if err := bindReferences(c, schema, entity); err != nil {
				return err
			}
		}
		documents := make([]Document, len(group))
		for i, entity := range group {
			id := schema.GetID(entity)
			if id == nil {
				return errors.Errorf("entity %s without ID can't be saved", schema.entityName)
			}
			data, err := encodeDocument(schema, entity)
			if err != nil {
				return errors.Wrapf(err, "encoding %s %v", schema.entityName, id)
			}
			documents[i] = Document{ID: idKey(id), Data: data}
		}
		if err := e.documentStore(schema).Save(c, schema.collection, documents); err != nil {
			return err
		}
		if schema.hasLocalCache {
			e.localCaches[schema.localCacheName].putDocuments(c, schema.collection, documents)
		}
		return nil
	})
}

func (e *engineImplementation) Delete(c Context, entities ...any) error {
	return e.eachByCollection(entities, func(schema *entitySchema, group []any) error {
		ids := make([]string, 0, len(group))
		for _, entity := range group {
			if id := schema.GetID(entity); id != nil {
				ids = append(ids, idKey(id))
			}
		}
		if len(ids) == 0 {
			return nil
		}
		if err := e.documentStore(schema).Remove(c, schema.collection, ids); err != nil {
			return err
		}
		if schema.hasLocalCache {
			e.localCaches[schema.localCacheName].removeDocuments(c, schema.collection, ids)
		}
		return nil
	})
}

func (e *engineImplementation) eachByCollection(entities []any, handler func(schema *entitySchema, group []any) error) error {
	var order []*entitySchema
	groups := make(map[*entitySchema][]any)
	for _, entity := range entities {
		schema, has := e.registry.schemas[indirectType(entity)]
		if !has {
			return errors.Errorf("entity '%T' is not registered", entity)
		}
		if _, seen := groups[schema]; !seen {
			order = append(order, schema)
		}
		groups[schema] = append(groups[schema], entity)
	}
	for _, schema := range order {
		if err := handler(schema, groups[schema]); err != nil {
			return err
		}
	}
	return nil
}

// documentStore returns the source declared by schema tags. Existence of the pool is
// checked by Validate.
func (e *engineImplementation) documentStore(schema *entitySchema) DocumentStore {
	switch schema.storeKind {
	case storeRedis:
		return e.redisStores[schema.storePool]
	case storeMySQL:
		return e.mysqlStores[schema.storePool]
	}
	return e.memoryStores[schema.storePool]
}

func (e *engineImplementation) documentSource(schema *entitySchema) DocumentSource {
	var source DocumentSource = e.documentStore(schema)
	if schema.hasLocalCache {
		source = &cachedSource{cache: e.localCaches[schema.localCacheName], source: source}
	}
	return source
}

func (e *engineImplementation) checkStore(schema *entitySchema) error {
	var has bool
	switch schema.storeKind {
	case storeRedis:
		_, has = e.redisStores[schema.storePool]
	case storeMySQL:
		_, has = e.mysqlStores[schema.storePool]
	default:
		_, has = e.memoryStores[schema.storePool]
	}
	if !has {
		return errors.Errorf("entity %s uses unregistered %s pool '%s'", schema.entityName, schema.storeKind, schema.storePool)
	}
	if schema.hasLocalCache {
		if _, has = e.localCaches[schema.localCacheName]; !has {
			return errors.Errorf("entity %s uses unregistered local cache pool '%s'", schema.entityName, schema.localCacheName)
		}
	}
	return nil
}
