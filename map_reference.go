package beeodm

import (
	"reflect"

	"github.com/pkg/errors"
)

// EntityMap is a string keyed map that keeps insertion order of keys.
type EntityMap[V any] struct {
	keys   []string
	values map[string]V
}

func NewEntityMap[V any]() *EntityMap[V] {
	return &EntityMap[V]{values: make(map[string]V)}
}

// Set adds or replaces value. Replaced keys keep their position.
func (m *EntityMap[V]) Set(key string, value V) {
	if _, has := m.values[key]; !has {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *EntityMap[V]) Get(key string) (V, bool) {
	value, has := m.values[key]
	return value, has
}

func (m *EntityMap[V]) Keys() []string {
	return m.keys
}

func (m *EntityMap[V]) Len() int {
	return len(m.keys)
}

// Range calls f for every entry in key order until f returns false.
func (m *EntityMap[V]) Range(f func(key string, value V) bool) {
	for _, key := range m.keys {
		if !f(key, m.values[key]) {
			return
		}
	}
}

// MapReference points to entities by string keys. V is the referenced leaf type or a
// slice of it.
type MapReference[V any] struct {
	referenceBase
	value *EntityMap[V]
}

func NewMapReference[V any](ids RawMap) *MapReference[V] {
	if ids == nil {
		ids = RawMap{}
	}
	return &MapReference[V]{referenceBase: referenceBase{raw: ids}}
}

func WrapMap[V any](values *EntityMap[V]) *MapReference[V] {
	if values == nil {
		values = NewEntityMap[V]()
	}
	return &MapReference[V]{referenceBase: referenceBase{state: stateResolved}, value: values}
}

func (r *MapReference[V]) Shape() Shape {
	return ShapeMap
}

func (r *MapReference[V]) TargetType() reflect.Type {
	return r.leafType()
}

func (r *MapReference[V]) leafType() reflect.Type {
	return leafOf(r.valueType())
}

func (r *MapReference[V]) valueType() reflect.Type {
	return reflect.TypeOf((*V)(nil)).Elem()
}

// IgnoreMissing makes Get omit keys without entity instead of returning
// MissingReferencedEntitiesError. Slice values lose missing entities, a key whose
// ids are all missing is omitted. Keys holding empty slices are kept.
func (r *MapReference[V]) IgnoreMissing(ignore bool) *MapReference[V] {
	r.setIgnoreMissing(ignore)
	return r
}

func (r *MapReference[V]) Get(c Context) (*EntityMap[V], error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.state == stateResolved {
		return r.value, nil
	}
	if err := r.bindFrom(c, r.leafType()); err != nil {
		return nil, err
	}
	if err := r.checkModel(); err != nil {
		return nil, err
	}
	entries, _ := asMapping(r.raw)
	valueType := r.valueType()
	value := NewEntityMap[V]()
	err := resolveShape(c, &r.referenceBase, r.ignoreMissing, func(plan *resolutionPlan) error {
		for _, entry := range entries {
			if valueType.Kind() == reflect.Slice {
				if err := plan.addSequence(entry.Value, valueType.Elem()); err != nil {
					return err
				}
				continue
			}
			if _, err := plan.add(entry.Value); err != nil {
				return err
			}
		}
		return nil
	}, func(plan *resolutionPlan) error {
		for _, entry := range entries {
			if valueType.Kind() == reflect.Slice {
				rebuilt, err := plan.rebuildSequence(entry.Value, valueType)
				if err != nil {
					return err
				}
				if countEntities(rebuilt) == 0 && len(leaves(entry.Value)) > 0 {
					continue
				}
				value.Set(entry.Key, rebuilt.Interface().(V))
				continue
			}
			entity, _, has, err := plan.entity(entry.Value, valueType)
			if err != nil {
				return err
			}
			if has {
				value.Set(entry.Key, entity.Interface().(V))
			}
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

func (r *MapReference[V]) IDs(c Context) ([]any, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.bindFrom(c, r.leafType()); err != nil {
		return nil, err
	}
	if r.state == stateResolved {
		var ids []any
		for _, key := range r.value.keys {
			nested, err := entityIDs(r.model, r.codec, reflect.ValueOf(r.value.values[key]))
			if err != nil {
				return nil, err
			}
			ids = append(ids, nested...)
		}
		return ids, nil
	}
	entries, _ := asMapping(r.raw)
	var raw []any
	for _, entry := range entries {
		raw = append(raw, leaves(entry.Value)...)
	}
	return wireIDs(r.model, r.codec, raw)
}

// checkModel rejects sequence values of polymorphic maps. Caller holds mutex.
func (r *MapReference[V]) checkModel() error {
	if r.valueType().Kind() == reflect.Slice && r.model.IsPolymorphic() {
		return &UnsupportedShapeError{Type: typeName(r.leafType()), Shape: ShapeMap, Reason: "polymorphic map values can't be sequences"}
	}
	return nil
}

func (r *MapReference[V]) bind(c Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.bindFrom(c, r.leafType())
}

func (r *MapReference[V]) bindModel(model TargetModel) error {
	if err := r.setModel(model, r.leafType()); err != nil {
		return err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.checkModel()
}

func (r *MapReference[V]) decodeRaw(raw any) error {
	entries, isMapping := asMapping(raw)
	if !isMapping {
		return errors.Errorf("expected mapping of %s ids, got %T", typeName(r.leafType()), raw)
	}
	valueType := r.valueType()
	for _, entry := range entries {
		if valueType.Kind() == reflect.Slice {
			if err := validateSequence(entry.Value, valueType.Elem()); err != nil {
				return errors.Wrapf(err, "key '%s'", entry.Key)
			}
			continue
		}
		if _, isSequence := asSequence(entry.Value); isSequence {
			return errors.Errorf("key '%s' holds sequence, declare map of %s slices", entry.Key, typeName(valueType))
		}
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.setRaw(entries, r.leafType())
}

func (r *MapReference[V]) encode() (any, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.state != stateResolved {
		entries, _ := asMapping(r.raw)
		for _, entry := range entries {
			if len(leaves(entry.Value)) > 0 {
				return r.raw, nil
			}
		}
		return nil, &NoIDForReferenceError{Type: typeName(r.leafType())}
	}
	total := 0
	for _, key := range r.value.keys {
		total += countEntities(reflect.ValueOf(r.value.values[key]))
	}
	if total == 0 {
		return nil, &NoIDForReferenceError{Type: typeName(r.leafType())}
	}
	codec, err := r.boundCodec(r.leafType())
	if err != nil {
		return nil, err
	}
	raw := make(RawMap, 0, r.value.Len())
	for _, key := range r.value.keys {
		encoded, err := encodeValue(r.model, codec, reflect.ValueOf(r.value.values[key]))
		if err != nil {
			return nil, err
		}
		raw = append(raw, RawMapEntry{Key: key, Value: encoded})
	}
	return raw, nil
}

func (r *MapReference[V]) MarshalJSON() ([]byte, error) {
	return marshalReference(r)
}

func (r *MapReference[V]) UnmarshalJSON(data []byte) error {
	return unmarshalReference(r, data)
}
