// Package docstore defines the document-store client contract the
// storefront core is built on, together with its PostgreSQL and
// in-memory implementations.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Collection names used by the storefront core.
const (
	CollectionUsers    = "users"
	CollectionOrders   = "orders"
	CollectionCounters = "counters"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrPersistence wraps unexpected store I/O failures so callers can
// classify them without depending on a concrete implementation.
var ErrPersistence = errors.New("document store failure")

// Document is the schemaless form a record takes at the store boundary.
type Document map[string]any

type serverTimestamp struct{}

// ServerTimestamp is a sentinel field value that implementations replace
// with the store clock at write time.
var ServerTimestamp = serverTimestamp{}

// Tx exposes the operations available inside a transaction. Writes made
// through a Tx are committed atomically when the transaction function
// returns nil and discarded otherwise.
type Tx interface {
	Get(collection, id string) (Document, error)
	Set(collection, id string, doc Document)
	Delete(collection, id string)
}

// Store is the contract required from the external document store:
// durable key to document storage, merge updates, equality-filtered
// queries, and atomic transactions over the documents they touch.
//
// Get and QueryEqual results always carry the document key under "id"
// unless the stored data already has one. Transactions on the same
// documents are linearizable with respect to each other; everything
// else is last-write-wins.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, doc Document) error
	// Update merges fields into an existing document and fails with
	// ErrNotFound when it does not exist.
	Update(ctx context.Context, collection, id string, fields Document) error
	Delete(ctx context.Context, collection, id string) error
	// Add stores the document under a store-assigned id and returns it.
	Add(ctx context.Context, collection string, doc Document) (string, error)
	// QueryEqual returns the documents whose fields equal every filter
	// value. An empty filter set returns the whole collection.
	QueryEqual(ctx context.Context, collection string, filters Document) ([]Document, error)
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Marshal converts a typed entity into its Document form.
func Marshal(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return doc, nil
}

// Unmarshal fills a typed entity from its Document form.
func Unmarshal(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	return nil
}

// resolveTimestamps replaces ServerTimestamp sentinels in the top-level
// fields with the given write-time clock value.
func resolveTimestamps(doc Document, now time.Time) {
	for k, v := range doc {
		if _, ok := v.(serverTimestamp); ok {
			doc[k] = now
		}
	}
}
