package beeodm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityMap(t *testing.T) {
	m := NewEntityMap[int]()
	m.Set("b", 1)
	m.Set("a", 2)
	m.Set("b", 3)
	assert.Equal(t, []string{"b", "a"}, m.Keys())
	assert.Equal(t, 2, m.Len())
	value, has := m.Get("b")
	assert.True(t, has)
	assert.Equal(t, 3, value)
	_, has = m.Get("c")
	assert.False(t, has)
	var visited []string
	m.Range(func(key string, _ int) bool {
		visited = append(visited, key)
		return false
	})
	assert.Equal(t, []string{"b"}, visited)
}

func TestMapReference(t *testing.T) {
	c, counter := prepareAuthors(t, "Tom", "Ann", "Bob")
	counter.Clear()

	reference := NewMapReference[*refAuthor](RawMap{{Key: "z", Value: 3}, {Key: "a", Value: 1}, {Key: "m", Value: 3}})
	assert.Equal(t, ShapeMap, reference.Shape())
	authors, err := reference.Get(c)
	assert.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, authors.Keys())
	z, _ := authors.Get("z")
	m, _ := authors.Get("m")
	a, _ := authors.Get("a")
	assert.Equal(t, "Bob", z.Name)
	assert.Equal(t, "Tom", a.Name)
	assert.Same(t, z, m)
	assert.Equal(t, 1, counter.Count())
	assert.Equal(t, []any{3, 1}, counter.Calls[0].IDs)

	ids, err := reference.IDs(c)
	assert.NoError(t, err)
	assert.Equal(t, []any{uint64(3), uint64(1), uint64(3)}, ids)
}

func TestMapReferenceMissing(t *testing.T) {
	c, _ := prepareAuthors(t, "Tom", "Ann")

	reference := NewMapReference[*refAuthor](RawMap{{Key: "first", Value: 1}, {Key: "lost", Value: 8}, {Key: "second", Value: 2}})
	_, err := reference.Get(c)
	var missing *MissingReferencedEntitiesError
	assert.ErrorAs(t, err, &missing)
	assert.Equal(t, []any{8}, missing.Missing)
	assert.False(t, reference.IsResolved())

	authors, err := reference.IgnoreMissing(true).Get(c)
	assert.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, authors.Keys())
}

func TestMapReferenceSequences(t *testing.T) {
	c, counter := prepareAuthors(t, "Tom", "Ann", "Bob")
	counter.Clear()

	teams, err := NewMapReference[[]*refAuthor](RawMap{{Key: "red", Value: []any{1, 2}}, {Key: "blue", Value: []any{3, 9}}}).IgnoreMissing(true).Get(c)
	assert.NoError(t, err)
	assert.Equal(t, []string{"red", "blue"}, teams.Keys())
	red, _ := teams.Get("red")
	blue, _ := teams.Get("blue")
	assert.Equal(t, []string{"Tom", "Ann"}, authorNames(red))
	assert.Equal(t, []string{"Bob"}, authorNames(blue))
	assert.Equal(t, 1, counter.Count())

	teams, err = NewMapReference[[]*refAuthor](RawMap{{Key: "x", Value: []any{9}}, {Key: "y", Value: []any{1}}, {Key: "z", Value: []any{}}}).IgnoreMissing(true).Get(c)
	assert.NoError(t, err)
	assert.Equal(t, []string{"y", "z"}, teams.Keys())
	empty, _ := teams.Get("z")
	assert.Empty(t, empty)

	counter.Clear()
	reference := NewMapReference[[]refItem](RawMap{{Key: "videos", Value: []any{Pointer{Collection: "videos", ID: 1}}}})
	_, err = reference.Get(c)
	var unsupported *UnsupportedShapeError
	assert.ErrorAs(t, err, &unsupported)
	assert.Equal(t, ShapeMap, unsupported.Shape)
	assert.Equal(t, 0, counter.Count())

	_, err = Decode(c.Engine().Registry(), typeOf[*MapReference[[]refItem]](), RawMap{{Key: "a", Value: []any{}}})
	assert.ErrorAs(t, err, &unsupported)
}

func TestMapReferencePolymorphic(t *testing.T) {
	c, _ := prepareAuthors(t)

	reference := NewMapReference[refItem](RawMap{
		{Key: "intro", Value: RawMap{{Key: "collection", Value: "videos"}, {Key: "id", Value: 1}}},
		{Key: "news", Value: Pointer{Collection: "articles", ID: "a1"}},
	})
	items, err := reference.Get(c)
	assert.NoError(t, err)
	assert.Equal(t, []string{"intro", "news"}, items.Keys())
	news, _ := items.Get("news")
	assert.Equal(t, "article News", news.ItemName())

	raw, err := Encode(c, reference)
	assert.NoError(t, err)
	assert.Equal(t, RawMap{
		{Key: "intro", Value: RawMap{{Key: "collection", Value: "videos"}, {Key: "id", Value: uint64(1)}}},
		{Key: "news", Value: RawMap{{Key: "collection", Value: "articles"}, {Key: "id", Value: "a1"}}},
	}, raw)
}
