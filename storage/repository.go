// Package storage provides the storage abstraction for admin-managed
// documents.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidName is returned for collection or slug names outside the
	// allowed pattern.
	ErrInvalidName = errors.New("invalid collection or slug name")
)

// Status is the publication state of a document.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Document is an opaque JSON body with publication metadata. The body is
// never interpreted by storage.
type Document struct {
	Collection  string          `json:"collection"`
	Slug        string          `json:"slug"`
	Body        json.RawMessage `json:"body"`
	Status      Status          `json:"status"`
	Revision    uint64          `json:"revision"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	PublishedAt *time.Time      `json:"publishedAt,omitempty"`
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Body = append(json.RawMessage(nil), d.Body...)
	if d.PublishedAt != nil {
		t := *d.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

// UpdateFunc receives the stored document, or nil when there is none, and
// returns the document to store in its place. Returning an error aborts the
// update.
type UpdateFunc func(current *Document) (*Document, error)

// Repository stores documents grouped by collection.
type Repository interface {
	Put(ctx context.Context, doc *Document) error
	Get(ctx context.Context, collection, slug string) (*Document, error)
	// List returns the documents of collection ordered by slug. An unknown
	// collection is empty, not an error.
	List(ctx context.Context, collection string) ([]*Document, error)
	// Update applies fn atomically against the current stored value.
	Update(ctx context.Context, collection, slug string, fn UpdateFunc) (*Document, error)
	Delete(ctx context.Context, collection, slug string) error
}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// ValidName reports whether s can be used as a collection or slug.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// CheckNames returns ErrInvalidName unless every name is valid.
func CheckNames(names ...string) error {
	for _, n := range names {
		if !ValidName(n) {
			return ErrInvalidName
		}
	}
	return nil
}
