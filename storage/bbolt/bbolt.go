// Package bbolt provides a BBolt-backed storage repository. Each collection
// is a top-level bucket keyed by slug.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/gatehouse/storage"
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func putInBucket(b *bbolt.Bucket, doc *storage.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", doc.Collection, doc.Slug, err)
	}
	return b.Put([]byte(doc.Slug), data)
}

func getFromBucket(b *bbolt.Bucket, slug string) (*storage.Document, error) {
	if b == nil {
		return nil, nil
	}
	data := b.Get([]byte(slug))
	if data == nil {
		return nil, nil
	}
	var doc storage.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", slug, err)
	}
	return &doc, nil
}

func (s *Store) Put(_ context.Context, doc *storage.Document) error {
	if err := storage.CheckNames(doc.Collection, doc.Slug); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(doc.Collection))
		if err != nil {
			return err
		}
		return putInBucket(b, doc)
	})
}

func (s *Store) Get(_ context.Context, collection, slug string) (*storage.Document, error) {
	var doc *storage.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		doc, err = getFromBucket(tx.Bucket([]byte(collection)), slug)
		return err
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, slug, storage.ErrNotFound)
	}
	return doc, nil
}

func (s *Store) List(_ context.Context, collection string) ([]*storage.Document, error) {
	docs := []*storage.Document{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		// Cursor order is byte order, which is slug order.
		return b.ForEach(func(k, v []byte) error {
			var doc storage.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}
			docs = append(docs, &doc)
			return nil
		})
	})
	return docs, err
}

func (s *Store) Update(_ context.Context, collection, slug string, fn storage.UpdateFunc) (*storage.Document, error) {
	if err := storage.CheckNames(collection, slug); err != nil {
		return nil, err
	}
	var next *storage.Document
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		current, err := getFromBucket(b, slug)
		if err != nil {
			return err
		}
		next, err = fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			return fmt.Errorf("%s/%s: update returned no document", collection, slug)
		}
		next.Collection, next.Slug = collection, slug
		return putInBucket(b, next)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Store) Delete(_ context.Context, collection, slug string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil || b.Get([]byte(slug)) == nil {
			return fmt.Errorf("%s/%s: %w", collection, slug, storage.ErrNotFound)
		}
		return b.Delete([]byte(slug))
	})
}
