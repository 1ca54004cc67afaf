package beeodm

import (
	"reflect"

	"github.com/pkg/errors"
)

type EntitySchemaReference struct {
	FieldName string
	Shape     Shape
	Type      reflect.Type
	index     int
}

type EntitySchema interface {
	GetEntityName() string
	GetType() reflect.Type
	GetCollection() string
	// GetID returns the ID field value, or nil when it holds a zero value.
	GetID(entity any) any
	NewEntity() any
	GetReferences() []EntitySchemaReference
	GetTag(field, key, trueValue, defaultValue string) string
	GetCacheKey() string
}

type documentFormat uint8

const (
	formatJSON documentFormat = iota
	formatMsgpack
)

const (
	storeMemory = "memory"
	storeRedis  = "redis"
	storeMySQL  = "mysql"
)

type entitySchema struct {
	t              reflect.Type
	entityName     string
	collection     string
	idIndex        int
	tags           map[string]map[string]string
	references     []EntitySchemaReference
	storeKind      string
	storePool      string
	hasLocalCache  bool
	localCacheName string
	format         documentFormat
	cacheKey       string
}

func (s *entitySchema) GetEntityName() string {
	return s.entityName
}

func (s *entitySchema) GetType() reflect.Type {
	return s.t
}

func (s *entitySchema) GetCollection() string {
	return s.collection
}

func (s *entitySchema) GetID(entity any) any {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Type() != s.t {
		return nil
	}
	id := v.Field(s.idIndex)
	if id.IsZero() {
		return nil
	}
	return id.Interface()
}

func (s *entitySchema) NewEntity() any {
	return reflect.New(s.t).Interface()
}

func (s *entitySchema) GetReferences() []EntitySchemaReference {
	return s.references
}

func (s *entitySchema) GetTag(field, key, trueValue, defaultValue string) string {
	tag, has := s.tags[field]
	if !has {
		return defaultValue
	}
	val, has := tag[key]
	if !has {
		return defaultValue
	}
	if val == "true" {
		return trueValue
	}
	return val
}

func (s *entitySchema) GetCacheKey() string {
	return s.cacheKey
}

func (s *entitySchema) init(entityType reflect.Type) error {
	s.t = entityType
	s.entityName = entityType.String()
	s.tags = make(map[string]map[string]string)
	s.idIndex = -1
	for i := 0; i < entityType.NumField(); i++ {
		field := entityType.Field(i)
		tag, hasTag := field.Tag.Lookup("orm")
		if hasTag {
			s.tags[field.Name] = parseTags(tag)
		}
		if field.Name == "ID" {
			s.idIndex = i
			continue
		}
		if !field.IsExported() {
			continue
		}
		if field.Type.Kind() != reflect.Ptr && reflect.PtrTo(field.Type).Implements(referenceType) {
			return errors.Errorf("reference field %s.%s must be a pointer", s.entityName, field.Name)
		}
		if !field.Type.Implements(referenceType) {
			continue
		}
		zero := reflect.Zero(field.Type).Interface().(Reference)
		s.references = append(s.references, EntitySchemaReference{
			FieldName: field.Name,
			Shape:     zero.Shape(),
			Type:      zero.(referenceInitializer).leafType(),
			index:     i,
		})
	}
	if s.idIndex < 0 {
		return errors.Errorf("entity %s has no ID field", s.entityName)
	}
	idKind := entityType.Field(s.idIndex).Type.Kind()
	if idKind == reflect.Slice || idKind == reflect.Map || idKind == reflect.Func {
		return errors.Errorf("entity %s ID field must be comparable", s.entityName)
	}
	s.collection = s.GetTag("ID", "collection", entityType.Name(), entityType.Name())
	s.storeKind = storeMemory
	s.storePool = s.GetTag("ID", "memory", DefaultPoolCode, DefaultPoolCode)
	if pool := s.GetTag("ID", "redis", DefaultPoolCode, ""); pool != "" {
		s.storeKind = storeRedis
		s.storePool = pool
	}
	if pool := s.GetTag("ID", "mysql", DefaultPoolCode, ""); pool != "" {
		if s.storeKind == storeRedis {
			return errors.Errorf("entity %s can be stored either in redis or in mysql", s.entityName)
		}
		s.storeKind = storeMySQL
		s.storePool = pool
	}
	s.localCacheName = s.GetTag("ID", "localCache", DefaultPoolCode, "")
	s.hasLocalCache = s.localCacheName != ""
	switch s.GetTag("ID", "format", "json", "json") {
	case "json":
		s.format = formatJSON
	case "msgpack":
		s.format = formatMsgpack
	default:
		return errors.Errorf("entity %s has invalid document format '%s'", s.entityName, s.tags["ID"]["format"])
	}
	s.cacheKey = collectionKeyPrefix(s.collection)
	return nil
}

func (s *entitySchema) referenceFields(entity any) []Reference {
	if len(s.references) == 0 {
		return nil
	}
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Type() != s.t {
		return nil
	}
	v = v.Elem()
	references := make([]Reference, 0, len(s.references))
	for _, def := range s.references {
		field := v.Field(def.index)
		if field.IsNil() {
			continue
		}
		references = append(references, field.Interface().(Reference))
	}
	return references
}

type TargetModel interface {
	// GetType returns leaf type of reference: pointer to registered entity or interface.
	GetType() reflect.Type
	DefaultCollection() string
	IsPolymorphic() bool
	EntitySchema(collection string) EntitySchema
	EntitySchemaFor(entity any) EntitySchema
}

type targetModel struct {
	t                 reflect.Type
	defaultCollection string
	polymorphic       bool
	byCollection      map[string]*entitySchema
	byType            map[reflect.Type]*entitySchema
}

func (m *targetModel) GetType() reflect.Type {
	return m.t
}

func (m *targetModel) DefaultCollection() string {
	return m.defaultCollection
}

func (m *targetModel) IsPolymorphic() bool {
	return m.polymorphic
}

func (m *targetModel) EntitySchema(collection string) EntitySchema {
	schema, has := m.byCollection[collection]
	if !has {
		return nil
	}
	return schema
}

func (m *targetModel) EntitySchemaFor(entity any) EntitySchema {
	t := reflect.TypeOf(entity)
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	schema, has := m.byType[t]
	if !has {
		return nil
	}
	return schema
}

func newTargetModel(leaf reflect.Type, schemas map[reflect.Type]*entitySchema) (*targetModel, error) {
	model := &targetModel{
		t:            leaf,
		byCollection: make(map[string]*entitySchema),
		byType:       make(map[reflect.Type]*entitySchema),
	}
	switch leaf.Kind() {
	case reflect.Ptr:
		schema, has := schemas[leaf.Elem()]
		if !has {
			return nil, errors.Errorf("entity '%s' is not registered", leaf.Elem().String())
		}
		model.defaultCollection = schema.collection
		model.byCollection[schema.collection] = schema
		model.byType[schema.t] = schema
	case reflect.Interface:
		model.polymorphic = true
		for t, schema := range schemas {
			if reflect.PtrTo(t).Implements(leaf) {
				model.byCollection[schema.collection] = schema
				model.byType[t] = schema
			}
		}
		if len(model.byType) == 0 {
			return nil, errors.Errorf("no registered entity implements '%s'", leaf.String())
		}
		if len(model.byType) == 1 {
			for _, schema := range model.byType {
				model.defaultCollection = schema.collection
			}
		}
	default:
		return nil, errors.Errorf("invalid reference type '%s', expected pointer to entity or interface", leaf.String())
	}
	return model, nil
}
