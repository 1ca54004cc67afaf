package beeodm

import (
	"reflect"
)

// SetReference points to a set of entities. Every entity is present once, in order of
// its first occurrence in stored ids. That order is best effort: sets written by other
// clients may carry ids in any order.
type SetReference[E any] struct {
	referenceBase
	value []E
}

func NewSetReference[E any](ids ...any) *SetReference[E] {
	return &SetReference[E]{referenceBase: referenceBase{raw: ids}}
}

// WrapSet returns resolved reference holding entities. Entities are kept as given.
func WrapSet[E any](entities ...E) *SetReference[E] {
	if entities == nil {
		entities = []E{}
	}
	return &SetReference[E]{referenceBase: referenceBase{state: stateResolved}, value: entities}
}

func (r *SetReference[E]) Shape() Shape {
	return ShapeSet
}

func (r *SetReference[E]) TargetType() reflect.Type {
	return r.leafType()
}

func (r *SetReference[E]) leafType() reflect.Type {
	return reflect.TypeOf((*E)(nil)).Elem()
}

func (r *SetReference[E]) IgnoreMissing(ignore bool) *SetReference[E] {
	r.setIgnoreMissing(ignore)
	return r
}

func (r *SetReference[E]) Get(c Context) ([]E, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.state == stateResolved {
		return r.value, nil
	}
	if err := r.bindFrom(c, r.leafType()); err != nil {
		return nil, err
	}
	if err := r.validate(r.raw); err != nil {
		return nil, err
	}
	var value []E
	err := resolveShape(c, &r.referenceBase, r.ignoreMissing, func(plan *resolutionPlan) error {
		return plan.addSequence(r.raw, r.leafType())
	}, func(plan *resolutionPlan) error {
		items, _ := asSequence(r.raw)
		value = make([]E, 0, len(items))
		seen := make(map[pointerKey]struct{}, len(items))
		for _, item := range items {
			entity, pointer, has, err := plan.entity(item, r.leafType())
			if err != nil {
				return err
			}
			if !has {
				continue
			}
			key := keyOf(pointer)
			if _, duplicated := seen[key]; duplicated {
				continue
			}
			seen[key] = struct{}{}
			value = append(value, entity.Interface().(E))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.value = value
	r.state = stateResolved
	return value, nil
}

func (r *SetReference[E]) IDs(c Context) ([]any, error) {
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

func (r *SetReference[E]) validate(raw any) error {
	items, isSequence := asSequence(raw)
	if !isSequence {
		return validateSequence(raw, r.leafType())
	}
	for _, item := range items {
		if _, nested := asSequence(item); nested {
			return &UnsupportedShapeError{Type: typeName(r.leafType()), Shape: ShapeSet, Reason: "nested sequences are not supported"}
		}
	}
	return nil
}

func (r *SetReference[E]) bind(c Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.bindFrom(c, r.leafType())
}

func (r *SetReference[E]) bindModel(model TargetModel) error {
	return r.setModel(model, r.leafType())
}

func (r *SetReference[E]) decodeRaw(raw any) error {
	if err := r.validate(raw); err != nil {
		return err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.setRaw(raw, r.leafType())
}

func (r *SetReference[E]) encode() (any, error) {
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

func (r *SetReference[E]) MarshalJSON() ([]byte, error) {
	return marshalReference(r)
}

func (r *SetReference[E]) UnmarshalJSON(data []byte) error {
	return unmarshalReference(r, data)
}
