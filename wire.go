package beeodm

import (
	"io"
	"reflect"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

type RawMapEntry struct {
	Key   string
	Value any
}

// RawMap is a wire mapping that keeps key order.
type RawMap []RawMapEntry

func (m RawMap) Get(key string) (any, bool) {
	for _, entry := range m {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return nil, false
}

func (m RawMap) MarshalJSON() ([]byte, error) {
	stream := documentJSON.BorrowStream(nil)
	defer documentJSON.ReturnStream(stream)
	stream.WriteObjectStart()
	for i, entry := range m {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(entry.Key)
		stream.WriteVal(entry.Value)
	}
	stream.WriteObjectEnd()
	if stream.Error != nil {
		return nil, stream.Error
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

func (p Pointer) MarshalJSON() ([]byte, error) {
	return p.Document().MarshalJSON()
}

// DecodeJSON decodes JSON wire value. Objects become RawMap in document order, numbers
// become json.Number.
func DecodeJSON(data []byte) (any, error) {
	iter := documentJSON.BorrowIterator(data)
	defer documentJSON.ReturnIterator(iter)
	value := readWireValue(iter)
	if iter.Error != nil && iter.Error != io.EOF {
		return nil, errors.Wrap(iter.Error, "invalid wire value")
	}
	return value, nil
}

func readWireValue(iter *jsoniter.Iterator) any {
	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		mapping := RawMap{}
		iter.ReadObjectCB(func(iter *jsoniter.Iterator, key string) bool {
			mapping = append(mapping, RawMapEntry{Key: key, Value: readWireValue(iter)})
			return iter.Error == nil
		})
		return mapping
	case jsoniter.ArrayValue:
		sequence := make([]any, 0)
		iter.ReadArrayCB(func(iter *jsoniter.Iterator) bool {
			sequence = append(sequence, readWireValue(iter))
			return iter.Error == nil
		})
		return sequence
	case jsoniter.StringValue:
		return iter.ReadString()
	case jsoniter.NumberValue:
		return iter.ReadNumber()
	case jsoniter.BoolValue:
		return iter.ReadBool()
	case jsoniter.NilValue:
		iter.ReadNil()
		return nil
	}
	iter.ReportError("readWireValue", "unexpected wire value")
	return nil
}

// Decode builds unresolved reference of fieldType, for example *ListReference[*Book],
// from raw wire value.
func Decode(registry ValidatedRegistry, fieldType reflect.Type, raw any) (Reference, error) {
	if fieldType == nil || fieldType.Kind() != reflect.Ptr || !fieldType.Implements(referenceType) {
		return nil, errors.Errorf("type %s is not a reference", typeName(fieldType))
	}
	reference := reflect.New(fieldType.Elem()).Interface().(Reference)
	initializer := reference.(referenceInitializer)
	model, err := registry.GetTargetModel(initializer.leafType())
	if err != nil {
		return nil, err
	}
	if err = initializer.decodeRaw(raw); err != nil {
		return nil, err
	}
	if err = initializer.bindModel(model); err != nil {
		return nil, err
	}
	return reference, nil
}

// Encode returns wire value of reference. Unresolved references return stored ids
// unchanged.
func Encode(c Context, reference Reference) (any, error) {
	initializer := reference.(referenceInitializer)
	if err := initializer.bind(c); err != nil {
		return nil, err
	}
	return initializer.encode()
}

// marshalReference writes empty references as null.
func marshalReference(reference referenceInitializer) ([]byte, error) {
	raw, err := reference.encode()
	if err != nil {
		var noID *NoIDForReferenceError
		if errors.As(err, &noID) {
			return []byte("null"), nil
		}
		return nil, err
	}
	return documentJSON.Marshal(raw)
}

func unmarshalReference(reference referenceInitializer, data []byte) error {
	raw, err := DecodeJSON(data)
	if err != nil {
		return err
	}
	return reference.decodeRaw(raw)
}

// asMapping returns entries of wire mapping. Go maps are iterated in sorted key order.
func asMapping(raw any) (RawMap, bool) {
	switch v := raw.(type) {
	case RawMap:
		return v, true
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		entries := make(RawMap, len(keys))
		for i, key := range keys {
			entries[i] = RawMapEntry{Key: key, Value: v[key]}
		}
		return entries, true
	}
	value := reflect.ValueOf(raw)
	if value.Kind() != reflect.Map || value.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	keys := value.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	entries := make(RawMap, len(keys))
	for i, key := range keys {
		entries[i] = RawMapEntry{Key: key.String(), Value: value.MapIndex(key).Interface()}
	}
	return entries, true
}
