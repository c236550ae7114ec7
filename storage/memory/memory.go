// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmcleod/gatehouse/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Document
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Document)}
}

func (r *Repository) Put(_ context.Context, doc *storage.Document) error {
	if err := storage.CheckNames(doc.Collection, doc.Slug); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(doc)
	return nil
}

func (r *Repository) putLocked(doc *storage.Document) {
	if _, ok := r.data[doc.Collection]; !ok {
		r.data[doc.Collection] = make(map[string]*storage.Document)
	}
	r.data[doc.Collection][doc.Slug] = doc.Clone()
}

func (r *Repository) Get(_ context.Context, collection, slug string) (*storage.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc := r.getLocked(collection, slug)
	if doc == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, slug, storage.ErrNotFound)
	}
	return doc.Clone(), nil
}

func (r *Repository) getLocked(collection, slug string) *storage.Document {
	return r.data[collection][slug]
}

func (r *Repository) List(_ context.Context, collection string) ([]*storage.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := make([]*storage.Document, 0, len(r.data[collection]))
	for _, d := range r.data[collection] {
		docs = append(docs, d.Clone())
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Slug < docs[j].Slug })
	return docs, nil
}

func (r *Repository) Update(_ context.Context, collection, slug string, fn storage.UpdateFunc) (*storage.Document, error) {
	if err := storage.CheckNames(collection, slug); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := fn(r.getLocked(collection, slug).Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, fmt.Errorf("%s/%s: update returned no document", collection, slug)
	}
	next.Collection, next.Slug = collection, slug
	r.putLocked(next)
	return next.Clone(), nil
}

func (r *Repository) Delete(_ context.Context, collection, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getLocked(collection, slug) == nil {
		return fmt.Errorf("%s/%s: %w", collection, slug, storage.ErrNotFound)
	}
	delete(r.data[collection], slug)
	return nil
}
