package beeodm

import (
	"strings"
	"sync"
)

// MemoryStore keeps encoded documents in process memory. It is the default store of
// every entity without redis or mysql tag.
type MemoryStore struct {
	code        string
	mutex       sync.RWMutex
	collections map[string]map[string][]byte
}

func newMemoryStore(code string) *MemoryStore {
	return &MemoryStore{code: code, collections: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) GetCode() string {
	return s.code
}

func (s *MemoryStore) Find(c Context, collection string, ids []string) (Cursor, error) {
	hasLogger, _ := c.getLocalCacheLoggers()
	documents := make([]Document, 0, len(ids))
	func() {
		s.mutex.RLock()
		defer s.mutex.RUnlock()
		rows := s.collections[collection]
		for _, id := range ids {
			data, has := rows[id]
			if has {
				documents = append(documents, Document{ID: id, Data: data})
			}
		}
	}()
	if hasLogger {
		s.log(c, "FIND", collection, ids, len(documents) < len(ids))
	}
	return newDocumentCursor(documents), nil
}

func (s *MemoryStore) Save(c Context, collection string, documents []Document) error {
	func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		rows, has := s.collections[collection]
		if !has {
			rows = make(map[string][]byte)
			s.collections[collection] = rows
		}
		for _, document := range documents {
			rows[document.ID] = document.Data
		}
	}()
	hasLogger, _ := c.getLocalCacheLoggers()
	if hasLogger {
		ids := make([]string, len(documents))
		for i, document := range documents {
			ids[i] = document.ID
		}
		s.log(c, "SAVE", collection, ids, false)
	}
	return nil
}

func (s *MemoryStore) Remove(c Context, collection string, ids []string) error {
	func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		rows := s.collections[collection]
		for _, id := range ids {
			delete(rows, id)
		}
	}()
	hasLogger, _ := c.getLocalCacheLoggers()
	if hasLogger {
		s.log(c, "REMOVE", collection, ids, false)
	}
	return nil
}

// Clear removes all documents.
func (s *MemoryStore) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.collections = make(map[string]map[string][]byte)
}

func (s *MemoryStore) Count(collection string) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.collections[collection])
}

func (s *MemoryStore) log(c Context, operation, collection string, ids []string, miss bool) {
	_, loggers := c.getLocalCacheLoggers()
	entry := newQueryLog(sourceMemory, s.code, operation, collection, len(ids), false)
	entry.query = operation + " " + collection + " " + strings.Join(ids, " ")
	entry.miss = miss
	entry.send(c, loggers)
}
