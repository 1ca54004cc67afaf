package beeodm

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// BatchFetcher loads many entities of one collection in a single round trip.
// Returned map is keyed by the requested id values. Transport errors must be returned,
// never reported as missing entities.
type BatchFetcher interface {
	FetchByIDs(c Context, collection string, ids []any) (map[any]any, error)
}

type Document struct {
	ID   string
	Data []byte
}

// Cursor iterates documents found by DocumentSource.Find. Close must always be called.
type Cursor interface {
	Next() bool
	Document() Document
	Err() error
	Close() error
}

type DocumentSource interface {
	Find(c Context, collection string, ids []string) (Cursor, error)
}

type DocumentStore interface {
	DocumentSource
	Save(c Context, collection string, documents []Document) error
	Remove(c Context, collection string, ids []string) error
}

// storeFetcher routes every collection to the document source declared by its schema.
type storeFetcher struct {
	engine *engineImplementation
}

func (f *storeFetcher) FetchByIDs(c Context, collection string, ids []any) (result map[any]any, err error) {
	schema, err := f.engine.registry.getSchema(collection)
	if err != nil {
		return nil, err
	}
	requested := make(map[string]any, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		key := idKey(id)
		if _, has := requested[key]; has {
			continue
		}
		requested[key] = id
		keys = append(keys, key)
	}
	result = make(map[any]any, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	cursor, err := f.engine.documentSource(schema).Find(c, collection, keys)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := cursor.Close(); closeErr != nil {
			err = multierror.Append(err, errors.Wrapf(closeErr, "closing %s cursor", collection)).ErrorOrNil()
			result = nil
		}
	}()
	for cursor.Next() {
		document := cursor.Document()
		id, has := requested[document.ID]
		if !has {
			continue
		}
		entity := schema.NewEntity()
		if err = decodeDocument(schema, document.Data, entity); err != nil {
			return nil, errors.Wrapf(err, "decoding %s %s", schema.entityName, document.ID)
		}
		result[id] = entity
	}
	if err = cursor.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s documents", collection)
	}
	return result, nil
}

type documentCursor struct {
	documents []Document
	position  int
	closed    bool
}

func newDocumentCursor(documents []Document) *documentCursor {
	return &documentCursor{documents: documents, position: -1}
}

func (c *documentCursor) Next() bool {
	if c.closed || c.position+1 >= len(c.documents) {
		return false
	}
	c.position++
	return true
}

func (c *documentCursor) Document() Document {
	return c.documents[c.position]
}

func (c *documentCursor) Err() error {
	return nil
}

func (c *documentCursor) Close() error {
	c.closed = true
	return nil
}
