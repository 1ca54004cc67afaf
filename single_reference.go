package beeodm

import (
	"reflect"

	"github.com/pkg/errors"
)

// SingleReference points to one entity. E is a pointer to a registered entity or an
// interface implemented by registered entities.
type SingleReference[E any] struct {
	referenceBase
	value E
}

// NewSingleReference returns unresolved reference to entity with id. Id may be
// a bare id, a Pointer or a pointer document.
func NewSingleReference[E any](id any) *SingleReference[E] {
	return &SingleReference[E]{referenceBase: referenceBase{raw: id}}
}

// WrapSingle returns resolved reference holding entity.
func WrapSingle[E any](entity E) *SingleReference[E] {
	return &SingleReference[E]{referenceBase: referenceBase{state: stateResolved}, value: entity}
}

func (r *SingleReference[E]) Shape() Shape {
	return ShapeSingle
}

func (r *SingleReference[E]) TargetType() reflect.Type {
	return r.leafType()
}

func (r *SingleReference[E]) leafType() reflect.Type {
	return reflect.TypeOf((*E)(nil)).Elem()
}

// IgnoreMissing makes Get return zero value instead of ReferenceNotFoundError.
func (r *SingleReference[E]) IgnoreMissing(ignore bool) *SingleReference[E] {
	r.setIgnoreMissing(ignore)
	return r
}

func (r *SingleReference[E]) Get(c Context) (E, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.state == stateResolved {
		return r.value, nil
	}
	var zero E
	if err := r.bindFrom(c, r.leafType()); err != nil {
		return zero, err
	}
	notFound := func(pointer Pointer) error {
		return &ReferenceNotFoundError{Type: typeName(r.leafType()), Collection: pointer.Collection, ID: pointer.ID}
	}
	if r.raw == nil {
		if !r.ignoreMissing {
			return zero, notFound(Pointer{Collection: r.model.DefaultCollection()})
		}
		r.value = zero
		r.state = stateResolved
		return zero, nil
	}
	var value E
	err := resolveShape(c, &r.referenceBase, true, func(plan *resolutionPlan) error {
		_, err := plan.add(r.raw)
		return err
	}, func(plan *resolutionPlan) error {
		entity, pointer, has, err := plan.entity(r.raw, r.leafType())
		if err != nil {
			return err
		}
		if !has {
			if !r.ignoreMissing {
				return notFound(pointer)
			}
			return nil
		}
		value = entity.Interface().(E)
		return nil
	})
	if err != nil {
		return zero, err
	}
	r.value = value
	r.state = stateResolved
	return value, nil
}

// ID returns referenced id, a Pointer for polymorphic references. Nil means no entity.
func (r *SingleReference[E]) ID(c Context) (any, error) {
	ids, err := r.IDs(c)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return ids[0], nil
}

func (r *SingleReference[E]) IDs(c Context) ([]any, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.bindFrom(c, r.leafType()); err != nil {
		return nil, err
	}
	if r.state == stateResolved {
		if isNil(r.value) {
			return []any{}, nil
		}
		return entityIDs(r.model, r.codec, reflect.ValueOf(&r.value).Elem())
	}
	return wireIDs(r.model, r.codec, leaves(r.raw))
}

func (r *SingleReference[E]) bind(c Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.bindFrom(c, r.leafType())
}

func (r *SingleReference[E]) bindModel(model TargetModel) error {
	return r.setModel(model, r.leafType())
}

func (r *SingleReference[E]) decodeRaw(raw any) error {
	if _, isSequence := asSequence(raw); isSequence {
		return errors.Errorf("sequence %v is not a valid reference to %s", raw, typeName(r.leafType()))
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.setRaw(raw, r.leafType())
}

func (r *SingleReference[E]) encode() (any, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.state != stateResolved {
		if r.raw == nil {
			return nil, &NoIDForReferenceError{Type: typeName(r.leafType())}
		}
		return r.raw, nil
	}
	if isNil(r.value) {
		return nil, &NoIDForReferenceError{Type: typeName(r.leafType())}
	}
	codec, err := r.boundCodec(r.leafType())
	if err != nil {
		return nil, err
	}
	id, err := codec.FromEntity(r.model, r.value)
	if err != nil {
		return nil, err
	}
	return wireID(id), nil
}

func (r *SingleReference[E]) MarshalJSON() ([]byte, error) {
	return marshalReference(r)
}

func (r *SingleReference[E]) UnmarshalJSON(data []byte) error {
	return unmarshalReference(r, data)
}
