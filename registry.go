package beeodm

import (
	"database/sql"
	"log"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultPoolCode = "default"

type Registry struct {
	entities        map[string]reflect.Type
	mysqlPools      map[string]*mySQLPoolConfig
	redisPools      map[string]*redisPoolConfig
	localCachePools map[string]*localCachePoolConfig
	memoryPools     map[string]bool
	codec           PointerCodec
	fetcher         BatchFetcher
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) RegisterEntity(entity ...any) {
	if r.entities == nil {
		r.entities = make(map[string]reflect.Type)
	}
	for _, e := range entity {
		t := reflect.TypeOf(e)
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		r.entities[t.String()] = t
	}
}

func (r *Registry) RegisterMemoryStore(code ...string) {
	if r.memoryPools == nil {
		r.memoryPools = make(map[string]bool)
	}
	r.memoryPools[poolCode(code)] = true
}

func (r *Registry) RegisterLocalCache(size int, code ...string) {
	if r.localCachePools == nil {
		r.localCachePools = make(map[string]*localCachePoolConfig)
	}
	dbCode := poolCode(code)
	r.localCachePools[dbCode] = newLocalCacheConfig(dbCode, size)
}

func (r *Registry) RegisterRedis(address, namespace string, db int, code ...string) {
	r.RegisterRedisWithCredentials(address, namespace, "", "", db, code...)
}

func (r *Registry) RegisterRedisWithCredentials(address, namespace, user, password string, db int, code ...string) {
	options := &redis.Options{
		Addr:            address,
		DB:              db,
		ConnMaxIdleTime: time.Minute * 2,
		Username:        user,
		Password:        password,
	}
	if strings.HasSuffix(address, ".sock") {
		options.Network = "unix"
	}
	if r.redisPools == nil {
		r.redisPools = make(map[string]*redisPoolConfig)
	}
	dbCode := poolCode(code)
	r.redisPools[dbCode] = &redisPoolConfig{code: dbCode, options: options, address: address, namespace: namespace, db: db}
}

type MySQLPoolOptions struct {
	ConnMaxLifetime    time.Duration
	MaxOpenConnections int
	MaxIdleConnections int
}

func (r *Registry) RegisterMySQLPool(dataSourceName string, poolOptions MySQLPoolOptions, code ...string) {
	if r.mysqlPools == nil {
		r.mysqlPools = make(map[string]*mySQLPoolConfig)
	}
	dbCode := poolCode(code)
	config := &mySQLPoolConfig{code: dbCode, dataSourceName: dataSourceName, options: poolOptions}
	parsed, err := mysql.ParseDSN(dataSourceName)
	if err == nil {
		config.databaseName = parsed.DBName
	}
	r.mysqlPools[dbCode] = config
}

// SetPointerCodec replaces the codec used to read and write reference ids.
func (r *Registry) SetPointerCodec(codec PointerCodec) {
	r.codec = codec
}

// SetBatchFetcher replaces store routing with a custom fetcher.
func (r *Registry) SetBatchFetcher(fetcher BatchFetcher) {
	r.fetcher = fetcher
}

func (r *Registry) Validate() (Engine, error) {
	e := &engineImplementation{}
	vr := &validatedRegistry{
		entities:     make(map[string]reflect.Type, len(r.entities)),
		schemas:      make(map[reflect.Type]*entitySchema, len(r.entities)),
		byCollection: make(map[string]*entitySchema, len(r.entities)),
		models:       make(map[reflect.Type]*targetModel),
	}
	e.registry = vr
	maxPoolLen := 0
	e.memoryStores = map[string]*MemoryStore{DefaultPoolCode: newMemoryStore(DefaultPoolCode)}
	for code := range r.memoryPools {
		e.memoryStores[code] = newMemoryStore(code)
		maxPoolLen = max(maxPoolLen, len(code))
	}
	e.localCaches = make(map[string]*LocalCache, len(r.localCachePools))
	for code, config := range r.localCachePools {
		e.localCaches[code] = newLocalCache(config)
		maxPoolLen = max(maxPoolLen, len(code))
	}
	e.redisStores = make(map[string]*RedisStore, len(r.redisPools))
	for code, config := range r.redisPools {
		e.redisStores[code] = &RedisStore{config: config, client: redis.NewClient(config.options)}
		maxPoolLen = max(maxPoolLen, len(code))
	}
	e.mysqlStores = make(map[string]*MySQLStore, len(r.mysqlPools))
	for code, config := range r.mysqlPools {
		db, err := sql.Open("mysql", config.dataSourceName)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid mysql pool '%s'", code)
		}
		config.applyOptions(db)
		e.mysqlStores[code] = &MySQLStore{config: config, db: db}
		maxPoolLen = max(maxPoolLen, len(code))
	}
	for name, entityType := range r.entities {
		schema := &entitySchema{}
		err := schema.init(entityType)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid entity struct '%s'", entityType.String())
		}
		other, has := vr.byCollection[schema.collection]
		if has {
			return nil, errors.Errorf("collection '%s' is used by %s and %s", schema.collection, other.entityName, schema.entityName)
		}
		if err = e.checkStore(schema); err != nil {
			return nil, err
		}
		vr.entities[name] = entityType
		vr.schemas[entityType] = schema
		vr.byCollection[schema.collection] = schema
	}
	for _, schema := range vr.schemas {
		for _, ref := range schema.references {
			_, err := vr.GetTargetModel(ref.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid reference %s.%s", schema.entityName, ref.FieldName)
			}
		}
	}
	e.codec = r.codec
	if e.codec == nil {
		e.codec = &defaultPointerCodec{}
	}
	e.fetcher = r.fetcher
	if e.fetcher == nil {
		e.fetcher = &storeFetcher{engine: e}
	}
	e.defaultQueryLogger = &defaultLogLogger{maxPoolLen: maxPoolLen, logger: log.New(os.Stderr, "", 0)}
	return e, nil
}

type ValidatedRegistry interface {
	GetEntities() map[string]reflect.Type
	GetEntitySchema(collection string) EntitySchema
	GetEntitySchemaForType(t reflect.Type) EntitySchema
	GetEntitySchemaForEntity(entity any) EntitySchema
	GetTargetModel(leaf reflect.Type) (TargetModel, error)
}

type validatedRegistry struct {
	entities     map[string]reflect.Type
	schemas      map[reflect.Type]*entitySchema
	byCollection map[string]*entitySchema
	models       map[reflect.Type]*targetModel
	mutex        sync.Mutex
}

func (r *validatedRegistry) GetEntities() map[string]reflect.Type {
	return r.entities
}

func (r *validatedRegistry) GetEntitySchema(collection string) EntitySchema {
	schema, has := r.byCollection[collection]
	if !has {
		return nil
	}
	return schema
}

func (r *validatedRegistry) GetEntitySchemaForType(t reflect.Type) EntitySchema {
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	schema, has := r.schemas[t]
	if !has {
		return nil
	}
	return schema
}

func (r *validatedRegistry) GetEntitySchemaForEntity(entity any) EntitySchema {
	return r.GetEntitySchemaForType(reflect.TypeOf(entity))
}

func (r *validatedRegistry) GetTargetModel(leaf reflect.Type) (TargetModel, error) {
	if leaf == nil {
		return nil, errors.New("missing reference type")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	model, has := r.models[leaf]
	if has {
		return model, nil
	}
	model, err := newTargetModel(leaf, r.schemas)
	if err != nil {
		return nil, err
	}
	r.models[leaf] = model
	return model, nil
}

func (r *validatedRegistry) getSchema(collection string) (*entitySchema, error) {
	schema, has := r.byCollection[collection]
	if !has {
		return nil, errors.Errorf("unregistered collection '%s'", collection)
	}
	return schema, nil
}

func poolCode(code []string) string {
	if len(code) > 0 && code[0] != "" {
		return code[0]
	}
	return DefaultPoolCode
}
