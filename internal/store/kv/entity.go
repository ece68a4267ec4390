package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/listenup-reader/internal/store"
)

// Entity provides generic CRUD operations for any domain type.
type Entity[T any] struct {
	store   *Store
	prefix  string
	indexes []Index[T]
}

// Index defines a secondary index on an entity. Index keys must be unique
// per entity; ordering indexes append the entity ID to guarantee it.
type Index[T any] struct {
	name   string
	keyGen func(*T) []string
}

// NewEntity creates a new Entity instance for type T.
func NewEntity[T any](s *Store, prefix string) *Entity[T] {
	return &Entity[T]{
		store:   s,
		prefix:  prefix,
		indexes: make([]Index[T], 0),
	}
}

// WithIndex adds a secondary index to the entity.
func (e *Entity[T]) WithIndex(name string, keyGen func(*T) []string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen})
	return e
}

func (e *Entity[T]) key(id string) []byte {
	return []byte(e.prefix + id)
}

func (e *Entity[T]) indexPrefix(name string) string {
	return e.prefix + "idx:" + name + ":"
}

func (e *Entity[T]) read(txn *badger.Txn, id string) (*T, error) {
	item, err := txn.Get(e.key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	var entity T
	err = item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, &entity); err != nil {
			return fmt.Errorf("failed to unmarshal entity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// write stores entity under id, replacing the index keys of old (if any).
func (e *Entity[T]) write(txn *badger.Txn, id string, old, entity *T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	if old != nil {
		for _, idx := range e.indexes {
			for _, indexKey := range idx.keyGen(old) {
				if err := txn.Delete([]byte(e.indexPrefix(idx.name) + indexKey)); err != nil {
					return fmt.Errorf("failed to delete old index key: %w", err)
				}
			}
		}
	}

	if err := txn.Set(e.key(id), data); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	for _, idx := range e.indexes {
		for _, indexKey := range idx.keyGen(entity) {
			if err := txn.Set([]byte(e.indexPrefix(idx.name)+indexKey), []byte(id)); err != nil {
				return fmt.Errorf("failed to set index key: %w", err)
			}
		}
	}
	return nil
}

// Create creates a new entity with the given ID.
// Returns ErrAlreadyExists if an entity with this ID already exists.
func (e *Entity[T]) Create(ctx context.Context, id string, entity *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return e.store.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(e.key(id))
		if err == nil {
			return store.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check existing key: %w", err)
		}
		return e.write(txn, id, nil, entity)
	})
}

// Get retrieves an entity by ID.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Get(ctx context.Context, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entity *T
	err := e.store.db.View(func(txn *badger.Txn) error {
		var err error
		entity, err = e.read(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// Upsert reads the current entity (nil when absent), lets fn produce the
// replacement, and writes it in the same transaction.
func (e *Entity[T]) Upsert(ctx context.Context, id string, fn func(current *T) (*T, error)) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *T
	err := e.store.db.Update(func(txn *badger.Txn) error {
		current, err := e.read(txn, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		result = next
		return e.write(txn, id, current, next)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete deletes an entity by ID.
// This operation is idempotent - it does not return an error if the entity does not exist.
func (e *Entity[T]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return e.store.db.Update(func(txn *badger.Txn) error {
		entity, err := e.read(txn, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		for _, idx := range e.indexes {
			for _, indexKey := range idx.keyGen(entity) {
				if err := txn.Delete([]byte(e.indexPrefix(idx.name) + indexKey)); err != nil {
					return fmt.Errorf("failed to delete index key: %w", err)
				}
			}
		}

		if err := txn.Delete(e.key(id)); err != nil {
			return fmt.Errorf("failed to delete key: %w", err)
		}
		return nil
	})
}

// ListByIndex walks index keys starting with match in descending order and
// returns up to limit entities. after is an index key (without the index
// prefix) from a previous page; iteration resumes strictly below it. The
// returned cursor is the last index key, or empty when nothing remains.
func (e *Entity[T]) ListByIndex(ctx context.Context, indexName, match, after string, limit int) ([]*T, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	base := e.indexPrefix(indexName)
	prefix := []byte(base + match)
	items := make([]*T, 0, limit)
	var cursor string

	err := e.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		if after != "" {
			seek = []byte(base + after)
		}

		var lastKey string
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			key := string(it.Item().KeyCopy(nil))
			indexKey := key[len(base):]
			if after != "" && indexKey == after {
				continue
			}

			if len(items) == limit {
				// One more key exists past this page.
				cursor = lastKey
				return nil
			}

			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			entity, err := e.read(txn, string(id))
			if err != nil {
				return err
			}
			items = append(items, entity)
			lastKey = indexKey
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return items, cursor, nil
}
