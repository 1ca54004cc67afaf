package beeodm

import (
	"reflect"
	"sort"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
)

type Shape uint8

const (
	ShapeSingle Shape = iota
	ShapeList
	ShapeSet
	ShapeMap
)

func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapeList:
		return "list"
	case ShapeSet:
		return "set"
	case ShapeMap:
		return "map"
	}
	return "unknown"
}

// Reference is an entity field holding ids of entities stored in other collections.
// Ids are resolved into entities on first Get and cached in the reference.
type Reference interface {
	Shape() Shape
	IsResolved() bool
	// IDs returns referenced ids in wire order. Resolved references derive them from
	// current entities.
	IDs(c Context) ([]any, error)
	TargetType() reflect.Type
}

// referenceInitializer is implemented by all reference types. leafType must not
// dereference the receiver.
type referenceInitializer interface {
	leafType() reflect.Type
	bind(c Context) error
	bindModel(model TargetModel) error
	decodeRaw(raw any) error
	encode() (any, error)
}

var referenceType = reflect.TypeOf((*Reference)(nil)).Elem()

type referenceState uint8

const (
	stateUnresolved referenceState = iota
	stateResolved
)

// referenceBase holds state shared by all shapes. mutex guards the whole reference and
// serialises resolution, so concurrent Get calls fetch only once.
type referenceBase struct {
	mutex         sync.Mutex
	state         referenceState
	raw           any
	ignoreMissing bool
	model         TargetModel
	codec         PointerCodec
}

func (b *referenceBase) IsResolved() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.state == stateResolved
}

func (b *referenceBase) setIgnoreMissing(ignore bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.ignoreMissing = ignore
}

// bindFrom attaches target model and codec of the engine behind c. Caller holds mutex.
func (b *referenceBase) bindFrom(c Context, leaf reflect.Type) error {
	if c == nil {
		if b.model == nil || b.codec == nil {
			return errors.Errorf("reference to %s is not bound to engine", typeName(leaf))
		}
		return nil
	}
	engine := c.getEngine()
	if b.model == nil {
		model, err := engine.registry.GetTargetModel(leaf)
		if err != nil {
			return err
		}
		b.model = model
	}
	if b.codec == nil {
		b.codec = engine.codec
	}
	return nil
}

// setRaw replaces ids of unresolved reference. Resolved reference keeps its entities.
// Caller holds mutex.
func (b *referenceBase) setRaw(raw any, leaf reflect.Type) error {
	if b.state == stateResolved {
		return errors.Errorf("reference to %s is already resolved", typeName(leaf))
	}
	b.raw = raw
	return nil
}

func (b *referenceBase) setModel(model TargetModel, leaf reflect.Type) error {
	if model.GetType() != leaf {
		return errors.Errorf("target model %s does not match reference to %s", typeName(model.GetType()), typeName(leaf))
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.model = model
	return nil
}

// boundCodec returns codec used by encoding. Model based default codec is enough when
// reference was never bound to engine.
func (b *referenceBase) boundCodec(leaf reflect.Type) (PointerCodec, error) {
	if b.model == nil {
		return nil, errors.Errorf("reference to %s is not bound to engine", typeName(leaf))
	}
	if b.codec == nil {
		return &defaultPointerCodec{}, nil
	}
	return b.codec, nil
}

func (b *referenceBase) fetcher(c Context) BatchFetcher {
	return c.getEngine().fetcher
}

// resolveShape runs grouping, one batch fetch per collection, reconciliation and
// shape reconstruction. Nothing is stored in reference when it fails.
func resolveShape(c Context, b *referenceBase, ignoreMissing bool, collect, rebuild func(plan *resolutionPlan) error) error {
	if c == nil {
		return errors.New("context is required to resolve reference")
	}
	plan := newResolutionPlan(b.model, b.codec)
	if err := collect(plan); err != nil {
		return err
	}
	if err := plan.fetch(c, b.fetcher(c), ignoreMissing); err != nil {
		return err
	}
	return rebuild(plan)
}

// bindReferences binds all reference fields of entity to engine behind c so that
// they can be encoded without context.
func bindReferences(c Context, schema *entitySchema, entity any) error {
	for _, reference := range schema.referenceFields(entity) {
		if err := reference.(referenceInitializer).bind(c); err != nil {
			return errors.Wrapf(err, "binding references of %s", schema.entityName)
		}
	}
	return nil
}

// Equal reports whether both references point to the same set of ids. Resolved
// entities are not compared.
func Equal(c Context, a, b Reference) (bool, error) {
	if a.Shape() != b.Shape() || a.TargetType() != b.TargetType() {
		return false, nil
	}
	idsA, err := a.IDs(c)
	if err != nil {
		return false, err
	}
	idsB, err := b.IDs(c)
	if err != nil {
		return false, err
	}
	return cmp.Equal(idSet(idsA), idSet(idsB), cmpopts.EquateEmpty()), nil
}

func idSet(ids []any) []string {
	seen := make(map[string]struct{}, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		var key string
		if pointer, is := id.(Pointer); is {
			key = pointer.String()
		} else {
			key = idKey(id)
		}
		if _, has := seen[key]; has {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func leafOf(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return t
}
