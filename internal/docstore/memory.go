package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and database-less
// local runs. Documents are held in their normalized JSON form so reads
// observe exactly what a durable store would return. A single mutex
// serializes transactions, which trivially satisfies the isolation
// guarantee of the contract.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string][]byte),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func encodeDoc(doc Document, now time.Time) ([]byte, error) {
	resolved := make(Document, len(doc))
	for k, v := range doc {
		resolved[k] = v
	}
	resolveTimestamps(resolved, now)

	raw, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return raw, nil
}

func decodeDoc(raw []byte, id string) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if _, ok := doc["id"]; !ok {
		doc["id"] = id
	}
	return doc, nil
}

// Get returns the document stored under the id, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(collection, id)
}

func (s *MemoryStore) getLocked(collection, id string) (Document, error) {
	raw, ok := s.data[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return decodeDoc(raw, id)
}

// Set stores the document under the id, overwriting any previous value.
func (s *MemoryStore) Set(ctx context.Context, collection, id string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(collection, id, doc)
}

func (s *MemoryStore) setLocked(collection, id string, doc Document) error {
	raw, err := encodeDoc(doc, s.now())
	if err != nil {
		return err
	}
	if s.data[collection] == nil {
		s.data[collection] = make(map[string][]byte)
	}
	s.data[collection][id] = raw
	return nil
}

// Update merges fields into an existing document.
func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.data[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	return s.setLocked(collection, id, doc)
}

// Delete removes the document. Deleting a missing document is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[collection], id)
	return nil
}

// Add stores the document under a freshly assigned id.
func (s *MemoryStore) Add(ctx context.Context, collection string, doc Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if err := s.setLocked(collection, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

// QueryEqual returns the documents matching every filter, ordered by id
// for determinism.
func (s *MemoryStore) QueryEqual(ctx context.Context, collection string, filters Document) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized, err := normalizeFilters(filters)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(s.data[collection]))
	for id := range s.data[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var res []Document
	for _, id := range ids {
		doc, err := decodeDoc(s.data[collection][id], id)
		if err != nil {
			return nil, err
		}
		if matches(doc, normalized) {
			res = append(res, doc)
		}
	}
	return res, nil
}

// normalizeFilters brings filter values into the same JSON-normalized
// form the stored documents are held in, so comparisons are type-stable.
func normalizeFilters(filters Document) (Document, error) {
	if len(filters) == 0 {
		return Document{}, nil
	}
	raw, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("normalize filters: %w", err)
	}
	var normalized Document
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("normalize filters: %w", err)
	}
	return normalized, nil
}

func matches(doc, filters Document) bool {
	for k, v := range filters {
		if !reflect.DeepEqual(doc[k], v) {
			return false
		}
	}
	return true
}

type memTxOp struct {
	delete     bool
	collection string
	id         string
	doc        Document
}

type memTx struct {
	store *MemoryStore
	ops   []memTxOp
}

func (t *memTx) Get(collection, id string) (Document, error) {
	// A transaction observes its own buffered writes.
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		if op.collection != collection || op.id != id {
			continue
		}
		if op.delete {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		raw, err := encodeDoc(op.doc, t.store.now())
		if err != nil {
			return nil, err
		}
		return decodeDoc(raw, id)
	}
	return t.store.getLocked(collection, id)
}

func (t *memTx) Set(collection, id string, doc Document) {
	t.ops = append(t.ops, memTxOp{collection: collection, id: id, doc: doc})
}

func (t *memTx) Delete(collection, id string) {
	t.ops = append(t.ops, memTxOp{delete: true, collection: collection, id: id})
}

// RunTransaction executes fn under the store mutex and applies its
// buffered writes atomically. A non-nil error from fn discards them.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}

	// Encode every write up front so a malformed document cannot leave
	// the transaction half-applied.
	now := s.now()
	raws := make([][]byte, len(tx.ops))
	for i, op := range tx.ops {
		if op.delete {
			continue
		}
		raw, err := encodeDoc(op.doc, now)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrPersistence, err)
		}
		raws[i] = raw
	}

	for i, op := range tx.ops {
		if op.delete {
			delete(s.data[op.collection], op.id)
			continue
		}
		if s.data[op.collection] == nil {
			s.data[op.collection] = make(map[string][]byte)
		}
		s.data[op.collection][op.id] = raws[i]
	}
	return nil
}

// Close releases nothing; it exists to satisfy the Store contract.
func (s *MemoryStore) Close() error {
	return nil
}
