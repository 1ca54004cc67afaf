package beeodm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type registryNoID struct {
	Name string
}

type registryDuplicate1 struct {
	ID uint64 `orm:"collection=dup"`
}

type registryDuplicate2 struct {
	ID uint64 `orm:"collection=dup"`
}

type registryMissingRedis struct {
	ID uint64 `orm:"redis=missing"`
}

type registryMissingCache struct {
	ID uint64 `orm:"localCache=missing"`
}

type registryTwoStores struct {
	ID uint64 `orm:"redis;mysql"`
}

type registryInvalidFormat struct {
	ID uint64 `orm:"format=xml"`
}

type registryValueReference struct {
	ID     uint64
	Author SingleReference[*refAuthor]
}

type registryReference struct {
	ID     uint64
	Author *SingleReference[*refAuthor]
}

type registrySliceID struct {
	ID []byte
}

func validateEntities(entities ...any) error {
	registry := NewRegistry()
	registry.RegisterEntity(entities...)
	_, err := registry.Validate()
	return err
}

func TestRegistryValidate(t *testing.T) {
	assert.EqualError(t, validateEntities(&registryNoID{}),
		"invalid entity struct 'beeodm.registryNoID': entity beeodm.registryNoID has no ID field")
	err := validateEntities(&registryDuplicate1{}, &registryDuplicate2{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "collection 'dup' is used by")
	assert.EqualError(t, validateEntities(&registryMissingRedis{}),
		"entity beeodm.registryMissingRedis uses unregistered redis pool 'missing'")
	assert.EqualError(t, validateEntities(&registryMissingCache{}),
		"entity beeodm.registryMissingCache uses unregistered local cache pool 'missing'")
	assert.EqualError(t, validateEntities(&registryTwoStores{}),
		"invalid entity struct 'beeodm.registryTwoStores': entity beeodm.registryTwoStores can be stored either in redis or in mysql")
	assert.EqualError(t, validateEntities(&registryInvalidFormat{}),
		"invalid entity struct 'beeodm.registryInvalidFormat': entity beeodm.registryInvalidFormat has invalid document format 'xml'")
	assert.EqualError(t, validateEntities(&registryValueReference{}, &refAuthor{}),
		"invalid entity struct 'beeodm.registryValueReference': reference field beeodm.registryValueReference.Author must be a pointer")
	assert.EqualError(t, validateEntities(&registryReference{}),
		"invalid reference beeodm.registryReference.Author: entity 'beeodm.refAuthor' is not registered")
	assert.EqualError(t, validateEntities(&registrySliceID{}),
		"invalid entity struct 'beeodm.registrySliceID': entity beeodm.registrySliceID ID field must be comparable")
	assert.NoError(t, validateEntities(&registryReference{}, &refAuthor{}))
}

func TestValidatedRegistry(t *testing.T) {
	c := prepareShelves(t)
	registry := c.Engine().Registry()
	assert.Len(t, registry.GetEntities(), 5)
	assert.Nil(t, registry.GetEntitySchema("missing"))
	assert.Nil(t, registry.GetEntitySchemaForType(nil))
	assert.Nil(t, registry.GetEntitySchemaForEntity(&registryNoID{}))

	schema := registry.GetEntitySchema("shelves")
	assert.Equal(t, typeOf[refShelf](), schema.GetType())
	assert.Equal(t, "beeodm.refShelf", schema.GetEntityName())
	assert.Equal(t, "shelves", schema.GetCollection())
	assert.Equal(t, "shelves", schema.GetTag("ID", "collection", "", ""))
	assert.Equal(t, "none", schema.GetTag("Name", "collection", "", "none"))
	assert.NotEmpty(t, schema.GetCacheKey())
	assert.Equal(t, schema, registry.GetEntitySchemaForEntity(refShelf{}))
	assert.Equal(t, uint64(4), schema.GetID(&refShelf{ID: 4}))
	assert.Nil(t, schema.GetID(&refShelf{}))
	assert.Nil(t, schema.GetID(&refAuthor{ID: 4}))
	assert.IsType(t, &refShelf{}, schema.NewEntity())

	references := schema.GetReferences()
	assert.Len(t, references, 7)
	shapes := make([]string, len(references))
	for i, reference := range references {
		shapes[i] = fmt.Sprintf("%s:%s:%s", reference.FieldName, reference.Shape, reference.Type)
	}
	assert.Equal(t, []string{
		"Owner:single:*beeodm.refAuthor",
		"Authors:list:*beeodm.refAuthor",
		"Groups:list:*beeodm.refAuthor",
		"Tags:set:*beeodm.refAuthor",
		"Roles:map:*beeodm.refAuthor",
		"Items:list:beeodm.refItem",
		"Empty:list:*beeodm.refAuthor",
	}, shapes)
}

func TestTargetModel(t *testing.T) {
	c := prepareShelves(t)
	registry := c.Engine().Registry()

	model, err := registry.GetTargetModel(typeOf[*refAuthor]())
	assert.NoError(t, err)
	assert.False(t, model.IsPolymorphic())
	assert.Equal(t, "authors", model.DefaultCollection())
	assert.Equal(t, typeOf[*refAuthor](), model.GetType())
	assert.NotNil(t, model.EntitySchema("authors"))
	assert.Nil(t, model.EntitySchema("videos"))
	again, err := registry.GetTargetModel(typeOf[*refAuthor]())
	assert.NoError(t, err)
	assert.Same(t, model, again)

	model, err = registry.GetTargetModel(typeOf[refItem]())
	assert.NoError(t, err)
	assert.True(t, model.IsPolymorphic())
	assert.Equal(t, "", model.DefaultCollection())
	assert.NotNil(t, model.EntitySchema("videos"))
	assert.NotNil(t, model.EntitySchema("articles"))
	assert.Equal(t, "articles", model.EntitySchemaFor(&refArticle{}).GetCollection())
	assert.Nil(t, model.EntitySchemaFor(&refAuthor{}))
	assert.Nil(t, model.EntitySchemaFor(nil))

	_, err = registry.GetTargetModel(typeOf[string]())
	assert.EqualError(t, err, "invalid reference type 'string', expected pointer to entity or interface")
	_, err = registry.GetTargetModel(typeOf[fmt.Stringer]())
	assert.EqualError(t, err, "no registered entity implements 'fmt.Stringer'")
	_, err = registry.GetTargetModel(nil)
	assert.EqualError(t, err, "missing reference type")
}

type staticFetcher struct {
	entities map[string]map[string]any
}

func (f *staticFetcher) FetchByIDs(_ Context, collection string, ids []any) (map[any]any, error) {
	result := make(map[any]any)
	for _, id := range ids {
		if entity, has := f.entities[collection][idKey(id)]; has {
			result[id] = entity
		}
	}
	return result, nil
}

// prefixedCodec reads ids written as "collection/id".
type prefixedCodec struct {
	defaultPointerCodec
}

func (codec *prefixedCodec) ToPointer(model TargetModel, raw any) (Pointer, error) {
	if asString, isString := raw.(string); isString {
		for i := range asString {
			if asString[i] == '/' {
				return Pointer{Collection: asString[:i], ID: asString[i+1:]}, nil
			}
		}
	}
	return codec.defaultPointerCodec.ToPointer(model, raw)
}

func TestRegistryCollaborators(t *testing.T) {
	registry := NewRegistry()
	fetcher := &staticFetcher{entities: map[string]map[string]any{
		"videos":   {"1": &refVideo{ID: 1, Title: "Static"}},
		"articles": {"x": &refArticle{ID: "x", Title: "Static"}},
	}}
	registry.SetBatchFetcher(fetcher)
	registry.SetPointerCodec(&prefixedCodec{})
	c := PrepareEngine(t, registry, &refVideo{}, &refArticle{})
	assert.Same(t, fetcher, c.Engine().BatchFetcher())

	items, err := NewListReference[refItem]("videos/1", "articles/x").Get(c)
	assert.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "video Static", items[0].ItemName())
	assert.Equal(t, "article Static", items[1].ItemName())
}
