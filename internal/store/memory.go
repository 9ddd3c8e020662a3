package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// NewMemory returns a Client backed by process memory. It honors the same
// conditional-commit contract as the Postgres backend and is what the tests
// run against.
func NewMemory() *Client {
	return newClient(&memoryBackend{docs: make(map[Ref]*memoryDoc)})
}

type memoryDoc struct {
	data      []byte
	version   int64
	updatedAt time.Time
}

type memoryBackend struct {
	mu   sync.Mutex
	docs map[Ref]*memoryDoc
}

func (m *memoryBackend) snapshot(_ context.Context, ref Ref) (json.RawMessage, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[ref]
	if !ok {
		return nil, 0, ErrNotFound
	}
	data := make([]byte, len(doc.data))
	copy(data, doc.data)
	return data, doc.version, nil
}

func (m *memoryBackend) commit(_ context.Context, reads map[Ref]int64, writes []write) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ref, version := range reads {
		current := int64(0)
		if doc, ok := m.docs[ref]; ok {
			current = doc.version
		}
		if current != version {
			return nil, ErrConflict
		}
	}

	now := time.Now().UTC()
	events := make([]Event, 0, len(writes))
	for _, w := range writes {
		if w.delete {
			delete(m.docs, w.ref)
			events = append(events, Event{Ref: w.ref, UpdatedAt: now, Deleted: true})
			continue
		}
		doc, ok := m.docs[w.ref]
		if !ok {
			doc = &memoryDoc{}
			m.docs[w.ref] = doc
		}
		doc.data = w.data
		doc.version++
		doc.updatedAt = now
		events = append(events, Event{Ref: w.ref, Data: w.data, Version: doc.version, UpdatedAt: now})
	}
	return events, nil
}
