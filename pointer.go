package beeodm

import (
	"github.com/pkg/errors"
)

const (
	pointerCollectionField = "collection"
	pointerIDField         = "id"
	dbRefCollectionField   = "$ref"
	dbRefIDField           = "$id"
)

// Pointer is an id paired with the collection it lives in.
type Pointer struct {
	Collection string
	ID         any
}

func (p Pointer) String() string {
	return p.Collection + ":" + idKey(p.ID)
}

// Document returns the wire form of the pointer.
func (p Pointer) Document() RawMap {
	return RawMap{{Key: pointerCollectionField, Value: p.Collection}, {Key: pointerIDField, Value: p.ID}}
}

type PointerCodec interface {
	// ToPointer converts one raw wire leaf into a pointer. Leaves without explicit
	// collection point to the model default collection.
	ToPointer(model TargetModel, raw any) (Pointer, error)
	// FromEntity returns the value stored on the wire for entity: a bare id for
	// monomorphic models, a Pointer otherwise.
	FromEntity(model TargetModel, entity any) (any, error)
}

type defaultPointerCodec struct{}

func (codec *defaultPointerCodec) ToPointer(model TargetModel, raw any) (Pointer, error) {
	var pointer Pointer
	switch v := raw.(type) {
	case nil:
		return pointer, errors.Errorf("nil id in reference to %s", typeName(model.GetType()))
	case Pointer:
		pointer = v
	case *Pointer:
		if v == nil {
			return pointer, errors.Errorf("nil pointer in reference to %s", typeName(model.GetType()))
		}
		pointer = *v
	case RawMap:
		p, isPointer, err := pointerFromFields(v.Get)
		if err != nil {
			return pointer, err
		}
		if !isPointer {
			return pointer, errors.Errorf("document %v is not a pointer document", raw)
		}
		pointer = p
	case map[string]any:
		p, isPointer, err := pointerFromFields(func(key string) (any, bool) {
			value, has := v[key]
			return value, has
		})
		if err != nil {
			return pointer, err
		}
		if !isPointer {
			return pointer, errors.Errorf("document %v is not a pointer document", raw)
		}
		pointer = p
	case []any:
		return pointer, errors.Errorf("sequence %v is not a valid id", raw)
	default:
		pointer.ID = raw
	}
	if pointer.ID == nil {
		return pointer, errors.Errorf("nil id in reference to %s", typeName(model.GetType()))
	}
	if pointer.Collection == "" {
		pointer.Collection = model.DefaultCollection()
		if pointer.Collection == "" {
			return pointer, errors.Errorf("id %v in reference to %s requires explicit collection", pointer.ID, typeName(model.GetType()))
		}
	}
	return pointer, nil
}

func (codec *defaultPointerCodec) FromEntity(model TargetModel, entity any) (any, error) {
	if isNil(entity) {
		return nil, errors.Errorf("nil entity in reference to %s", typeName(model.GetType()))
	}
	schema := model.EntitySchemaFor(entity)
	if schema == nil {
		return nil, errors.Errorf("entity %T is not a valid %s", entity, typeName(model.GetType()))
	}
	id := schema.GetID(entity)
	if isNil(id) {
		return nil, errors.Errorf("entity %T has no id", entity)
	}
	if model.IsPolymorphic() {
		return Pointer{Collection: schema.GetCollection(), ID: id}, nil
	}
	return id, nil
}

func pointerFromFields(get func(key string) (any, bool)) (Pointer, bool, error) {
	collection, hasCollection := get(pointerCollectionField)
	id, hasID := get(pointerIDField)
	if !hasCollection && !hasID {
		collection, hasCollection = get(dbRefCollectionField)
		id, hasID = get(dbRefIDField)
	}
	if !hasCollection || !hasID {
		return Pointer{}, false, nil
	}
	name, isString := collection.(string)
	if !isString {
		return Pointer{}, true, errors.Errorf("pointer collection %v is not a string", collection)
	}
	return Pointer{Collection: name, ID: id}, true, nil
}

// isPointerDocument reports whether a wire mapping is a pointer document rather than a
// key->id mapping.
func isPointerDocument(raw any) bool {
	switch v := raw.(type) {
	case RawMap:
		_, is, _ := pointerFromFields(v.Get)
		return is && len(v) == 2
	case map[string]any:
		_, is, _ := pointerFromFields(func(key string) (any, bool) {
			value, has := v[key]
			return value, has
		})
		return is && len(v) == 2
	case Pointer, *Pointer:
		return true
	}
	return false
}

func wireID(id any) any {
	if p, is := id.(Pointer); is {
		return p.Document()
	}
	return id
}
