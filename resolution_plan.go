package beeodm

import (
	"reflect"

	"github.com/pkg/errors"
)

// resolutionPlan groups leaves of one raw reference structure into per collection
// buckets and keeps entities fetched for them.
type resolutionPlan struct {
	model       TargetModel
	codec       PointerCodec
	collections []string
	buckets     map[string][]any
	requested   map[pointerKey]struct{}
	found       map[pointerKey]any
}

func newResolutionPlan(model TargetModel, codec PointerCodec) *resolutionPlan {
	return &resolutionPlan{
		model:     model,
		codec:     codec,
		buckets:   make(map[string][]any),
		requested: make(map[pointerKey]struct{}),
		found:     make(map[pointerKey]any),
	}
}

func (p *resolutionPlan) pointer(raw any) (Pointer, error) {
	pointer, err := p.codec.ToPointer(p.model, raw)
	if err != nil {
		return pointer, err
	}
	if p.model.EntitySchema(pointer.Collection) == nil {
		return pointer, errors.Errorf("collection '%s' is not a valid target of reference to %s", pointer.Collection, typeName(p.model.GetType()))
	}
	return pointer, nil
}

// add registers one leaf. Equal ids are requested once.
func (p *resolutionPlan) add(raw any) (Pointer, error) {
	pointer, err := p.pointer(raw)
	if err != nil {
		return pointer, err
	}
	key := keyOf(pointer)
	if _, has := p.requested[key]; has {
		return pointer, nil
	}
	p.requested[key] = struct{}{}
	if _, has := p.buckets[pointer.Collection]; !has {
		p.collections = append(p.collections, pointer.Collection)
	}
	p.buckets[pointer.Collection] = append(p.buckets[pointer.Collection], pointer.ID)
	return pointer, nil
}

// addSequence registers every leaf of raw, a sequence of elem values nested as deep as
// elem is.
func (p *resolutionPlan) addSequence(raw any, elem reflect.Type) error {
	items, isSequence := asSequence(raw)
	if !isSequence {
		return errors.Errorf("expected sequence of %s ids, got %T", typeName(leafOf(elem)), raw)
	}
	for _, item := range items {
		if elem.Kind() == reflect.Slice {
			if err := p.addSequence(item, elem.Elem()); err != nil {
				return err
			}
			continue
		}
		if _, err := p.add(item); err != nil {
			return err
		}
	}
	return nil
}

func (p *resolutionPlan) fetch(c Context, fetcher BatchFetcher, ignoreMissing bool) error {
	for _, collection := range p.collections {
		ids := p.buckets[collection]
		entities, err := fetcher.FetchByIDs(c, collection, ids)
		if err != nil {
			return err
		}
		found := 0
		for id, entity := range entities {
			if isNil(entity) {
				continue
			}
			key := pointerKey{collection: collection, id: idKey(id)}
			if _, requested := p.requested[key]; !requested {
				continue
			}
			if _, has := p.found[key]; has {
				continue
			}
			p.found[key] = entity
			found++
		}
		if !ignoreMissing && found < len(ids) {
			missing := make([]any, 0, len(ids)-found)
			for _, id := range ids {
				if _, has := p.found[pointerKey{collection: collection, id: idKey(id)}]; !has {
					missing = append(missing, id)
				}
			}
			return &MissingReferencedEntitiesError{
				Type:       typeName(p.model.GetType()),
				Collection: collection,
				Requested:  len(ids),
				Found:      found,
				Missing:    missing,
			}
		}
	}
	return nil
}

// entity returns entity fetched for leaf as value of leaf type.
func (p *resolutionPlan) entity(raw any, leaf reflect.Type) (reflect.Value, Pointer, bool, error) {
	pointer, err := p.pointer(raw)
	if err != nil {
		return reflect.Value{}, pointer, false, err
	}
	entity, has := p.found[keyOf(pointer)]
	if !has {
		return reflect.Value{}, pointer, false, nil
	}
	value := reflect.ValueOf(entity)
	if !value.Type().AssignableTo(leaf) {
		return reflect.Value{}, pointer, false, errors.Errorf("fetched %T is not a valid %s", entity, typeName(leaf))
	}
	target := reflect.New(leaf).Elem()
	target.Set(value)
	return target, pointer, true, nil
}

// rebuildSequence substitutes entities for ids in raw keeping its nesting. Leaves
// without entity are filtered out.
func (p *resolutionPlan) rebuildSequence(raw any, t reflect.Type) (reflect.Value, error) {
	items, _ := asSequence(raw)
	result := reflect.MakeSlice(t, 0, len(items))
	elem := t.Elem()
	for _, item := range items {
		if elem.Kind() == reflect.Slice {
			nested, err := p.rebuildSequence(item, elem)
			if err != nil {
				return result, err
			}
			result = reflect.Append(result, nested)
			continue
		}
		value, _, has, err := p.entity(item, elem)
		if err != nil {
			return result, err
		}
		if has {
			result = reflect.Append(result, value)
		}
	}
	return result, nil
}

// validateSequence checks nesting of raw against elem without resolving anything.
func validateSequence(raw any, elem reflect.Type) error {
	items, isSequence := asSequence(raw)
	if !isSequence {
		return errors.Errorf("expected sequence of %s ids, got %T", typeName(leafOf(elem)), raw)
	}
	for _, item := range items {
		if elem.Kind() == reflect.Slice {
			if err := validateSequence(item, elem.Elem()); err != nil {
				return err
			}
			continue
		}
		if _, nested := asSequence(item); nested {
			return errors.Errorf("unexpected nested sequence %v in reference to %s", item, typeName(elem))
		}
	}
	return nil
}

// leaves returns all leaves of raw in order.
func leaves(raw any) []any {
	items, isSequence := asSequence(raw)
	if !isSequence {
		if raw == nil {
			return nil
		}
		return []any{raw}
	}
	result := make([]any, 0, len(items))
	for _, item := range items {
		result = append(result, leaves(item)...)
	}
	return result
}

// wireIDs converts leaves to ids returned by Reference.IDs.
func wireIDs(model TargetModel, codec PointerCodec, raw []any) ([]any, error) {
	ids := make([]any, len(raw))
	for i, leaf := range raw {
		pointer, err := codec.ToPointer(model, leaf)
		if err != nil {
			return nil, err
		}
		if model.IsPolymorphic() {
			ids[i] = pointer
		} else {
			ids[i] = pointer.ID
		}
	}
	return ids, nil
}

// encodeValue converts resolved value, entity or nested slice of entities, into wire
// form.
func encodeValue(model TargetModel, codec PointerCodec, value reflect.Value) (any, error) {
	if value.Kind() == reflect.Slice {
		items := make([]any, value.Len())
		for i := 0; i < value.Len(); i++ {
			item, err := encodeValue(model, codec, value.Index(i))
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	}
	id, err := codec.FromEntity(model, interfaceOf(value))
	if err != nil {
		return nil, err
	}
	return wireID(id), nil
}

// entityIDs returns ids of resolved value in order, flattening nested slices.
func entityIDs(model TargetModel, codec PointerCodec, value reflect.Value) ([]any, error) {
	if value.Kind() == reflect.Slice {
		ids := make([]any, 0, value.Len())
		for i := 0; i < value.Len(); i++ {
			nested, err := entityIDs(model, codec, value.Index(i))
			if err != nil {
				return nil, err
			}
			ids = append(ids, nested...)
		}
		return ids, nil
	}
	id, err := codec.FromEntity(model, interfaceOf(value))
	if err != nil {
		return nil, err
	}
	return []any{id}, nil
}

// countEntities returns the number of leaves of resolved value.
func countEntities(value reflect.Value) int {
	if !value.IsValid() {
		return 0
	}
	if value.Kind() != reflect.Slice {
		return 1
	}
	count := 0
	for i := 0; i < value.Len(); i++ {
		count += countEntities(value.Index(i))
	}
	return count
}

func interfaceOf(value reflect.Value) any {
	if !value.IsValid() {
		return nil
	}
	return value.Interface()
}

func asSequence(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case nil, RawMap, string, []byte:
		return nil, false
	case []any:
		return v, true
	}
	value := reflect.ValueOf(raw)
	if value.Kind() != reflect.Slice || value.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	items := make([]any, value.Len())
	for i := range items {
		items[i] = value.Index(i).Interface()
	}
	return items, true
}
