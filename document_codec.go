package beeodm

import (
	"encoding/json"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/shamaton/msgpack"
)

// Map keys are sorted so that documents built from Go maps are stable.
var documentJSON = jsoniter.Config{UseNumber: true, SortMapKeys: true}.Froze()

func encodeDocument(schema *entitySchema, entity any) ([]byte, error) {
	data, err := documentJSON.Marshal(entity)
	if err != nil {
		return nil, err
	}
	if schema.format != formatMsgpack {
		return data, nil
	}
	// msgpack documents are built from the JSON tree so that reference fields keep
	// their wire encoding.
	tree, err := DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(packTree(tree))
}

func decodeDocument(schema *entitySchema, data []byte, entity any) error {
	if schema.format != formatMsgpack {
		return documentJSON.Unmarshal(data, entity)
	}
	var tree any
	if err := msgpack.Unmarshal(data, &tree); err != nil {
		return err
	}
	asJSON, err := documentJSON.Marshal(unpackTree(tree))
	if err != nil {
		return err
	}
	return documentJSON.Unmarshal(asJSON, entity)
}

// packTree converts JSON tree into msgpack values. msgpack maps are unordered, so every
// object is packed as map from position to [key, value] pair.
func packTree(value any) any {
	switch v := value.(type) {
	case RawMap:
		packed := make(map[int]any, len(v))
		for i, entry := range v {
			packed[i] = []any{entry.Key, packTree(entry.Value)}
		}
		return packed
	case []any:
		for i, val := range v {
			v[i] = packTree(val)
		}
		return v
	case json.Number:
		if asInt, err := v.Int64(); err == nil {
			return asInt
		}
		if asUint, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return asUint
		}
		asFloat, _ := v.Float64()
		return asFloat
	}
	return value
}

func unpackTree(value any) any {
	switch v := value.(type) {
	case map[any]any:
		if entries, isPacked := unpackObject(v); isPacked {
			return entries
		}
		converted := make(map[string]any, len(v))
		for key, val := range v {
			converted[fmt.Sprintf("%v", key)] = unpackTree(val)
		}
		return converted
	case []any:
		for i, val := range v {
			v[i] = unpackTree(val)
		}
		return v
	case []byte:
		return string(v)
	}
	return value
}

// unpackObject rebuilds object packed by packTree. It reports false for plain maps.
func unpackObject(packed map[any]any) (RawMap, bool) {
	entries := make(RawMap, len(packed))
	filled := make([]bool, len(packed))
	for key, val := range packed {
		position, isPosition := packedPosition(key)
		if !isPosition || position >= len(packed) || filled[position] {
			return nil, false
		}
		pair, isPair := val.([]any)
		if !isPair || len(pair) != 2 {
			return nil, false
		}
		name, isString := pair[0].(string)
		if !isString {
			return nil, false
		}
		entries[position] = RawMapEntry{Key: name, Value: pair[1]}
		filled[position] = true
	}
	for i := range entries {
		entries[i].Value = unpackTree(entries[i].Value)
	}
	return entries, true
}

func packedPosition(key any) (int, bool) {
	switch v := key.(type) {
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case int8:
		return int(v), v >= 0
	case int16:
		return int(v), v >= 0
	case int32:
		return int(v), v >= 0
	case int64:
		return int(v), v >= 0
	case int:
		return v, v >= 0
	}
	return 0, false
}
