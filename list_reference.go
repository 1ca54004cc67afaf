package beeodm

import (
	"reflect"
)

// ListReference points to an ordered list of entities. T is the referenced leaf type or
// a slice of it, so ListReference[[]*Book] resolves into [][]*Book.
type ListReference[T any] struct {
	referenceBase
	value []T
}

// NewListReference returns unresolved reference to ids. Nested lists are passed as
// []any values.
func NewListReference[T any](ids ...any) *ListReference[T] {
	return &ListReference[T]{referenceBase: referenceBase{raw: ids}}
}

// WrapList returns resolved reference holding values.
func WrapList[T any](values ...T) *ListReference[T] {
	if values == nil {
		values = []T{}
	}
	return &ListReference[T]{referenceBase: referenceBase{state: stateResolved}, value: values}
}

func (r *ListReference[T]) Shape() Shape {
	return ShapeList
}

func (r *ListReference[T]) TargetType() reflect.Type {
	return r.leafType()
}

func (r *ListReference[T]) leafType() reflect.Type {
	return leafOf(r.elemType())
}

func (r *ListReference[T]) elemType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// IgnoreMissing makes Get skip ids without entity instead of returning
// MissingReferencedEntitiesError.
func (r *ListReference[T]) IgnoreMissing(ignore bool) *ListReference[T] {
	r.setIgnoreMissing(ignore)
	return r
}

func (r *ListReference[T]) Get(c Context) ([]T, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.state == stateResolved {
		return r.value, nil
	}
	if err := r.bindFrom(c, r.leafType()); err != nil {
		return nil, err
	}
	var value []T
	err := resolveShape(c, &r.referenceBase, r.ignoreMissing, func(plan *resolutionPlan) error {
		return plan.addSequence(r.raw, r.elemType())
	}, func(plan *resolutionPlan) error {
		rebuilt, err := plan.rebuildSequence(r.raw, reflect.TypeOf(value))
		if err != nil {
			return err
		}
		value = rebuilt.Interface().([]T)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.value = value
	r.state = stateResolved
	return value, nil
}

func (r *ListReference[T]) IDs(c Context) ([]any, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.bindFrom(c, r.leafType()); err != nil {
		return nil, err
	}
	if r.state == stateResolved {
		return entityIDs(r.model, r.codec, reflect.ValueOf(r.value))
	}
	return wireIDs(r.model, r.codec, leaves(r.raw))
}

func (r *ListReference[T]) bind(c Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.bindFrom(c, r.leafType())
}

func (r *ListReference[T]) bindModel(model TargetModel) error {
	return r.setModel(model, r.leafType())
}

func (r *ListReference[T]) decodeRaw(raw any) error {
	if err := validateSequence(raw, r.elemType()); err != nil {
		return err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.setRaw(raw, r.leafType())
}

func (r *ListReference[T]) encode() (any, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.state != stateResolved {
		if len(leaves(r.raw)) == 0 {
			return nil, &NoIDForReferenceError{Type: typeName(r.leafType())}
		}
		return r.raw, nil
	}
	if countEntities(reflect.ValueOf(r.value)) == 0 {
		return nil, &NoIDForReferenceError{Type: typeName(r.leafType())}
	}
	codec, err := r.boundCodec(r.leafType())
	if err != nil {
		return nil, err
	}
	return encodeValue(r.model, codec, reflect.ValueOf(r.value))
}

func (r *ListReference[T]) MarshalJSON() ([]byte, error) {
	return marshalReference(r)
}

func (r *ListReference[T]) UnmarshalJSON(data []byte) error {
	return unmarshalReference(r, data)
}
