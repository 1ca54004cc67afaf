package beeodm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

type ReferenceNotFoundError struct {
	Type       string
	Collection string
	ID         any
}

func (err *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("referenced entity %s with id %v not found in collection '%s'", err.Type, err.ID, err.Collection)
}

type MissingReferencedEntitiesError struct {
	Type       string
	Collection string
	Requested  int
	Found      int
	Missing    []any
}

func (err *MissingReferencedEntitiesError) Error() string {
	return fmt.Sprintf("missing referenced entities %s in collection '%s': found %d of %d, missing ids %v",
		err.Type, err.Collection, err.Found, err.Requested, err.Missing)
}

type NoIDForReferenceError struct {
	Type string
}

func (err *NoIDForReferenceError) Error() string {
	return fmt.Sprintf("reference to %s has no ids to encode", err.Type)
}

type UnsupportedShapeError struct {
	Type   string
	Shape  Shape
	Reason string
}

func (err *UnsupportedShapeError) Error() string {
	return fmt.Sprintf("unsupported %s reference to %s: %s", err.Shape, err.Type, err.Reason)
}

// idKey returns the canonical textual form of an id. Ids with the same textual form
// are the same id, whatever Go type carried them.
func idKey(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case uint64:
		return strconv.FormatUint(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%v", id)
}

type pointerKey struct {
	collection string
	id         string
}

func keyOf(p Pointer) pointerKey {
	return pointerKey{collection: p.Collection, id: idKey(p.ID)}
}

func parseTags(tag string) map[string]string {
	attributes := make(map[string]string)
	if tag == "" {
		return attributes
	}
	for _, arg := range strings.Split(tag, ";") {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) == 1 {
			attributes[parts[0]] = "true"
		} else {
			attributes[parts[0]] = parts[1]
		}
	}
	return attributes
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func indirectType(value any) reflect.Type {
	t := reflect.TypeOf(value)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
