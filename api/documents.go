package api

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/gatehouse/audit"
	"github.com/jmcleod/gatehouse/auth"
	"github.com/jmcleod/gatehouse/storage"
)

// documentNames reads and validates the route parameters. slug is empty on
// collection-level routes.
func documentNames(w http.ResponseWriter, r *http.Request) (collection, slug string, ok bool) {
	collection = chi.URLParam(r, "collection")
	slug = chi.URLParam(r, "slug")
	names := []string{collection}
	if slug != "" {
		names = append(names, slug)
	}
	if err := storage.CheckNames(names...); err != nil {
		writeError(w, http.StatusBadRequest, "invalid collection or slug")
		return "", "", false
	}
	if collection == devicesCollection {
		writeError(w, http.StatusBadRequest, "reserved collection")
		return "", "", false
	}
	return collection, slug, true
}

func docAttrs(collection, slug string) []slog.Attr {
	return []slog.Attr{slog.String("collection", collection), slog.String("slug", slug)}
}

// ListDocuments handles GET /api/admin/documents/{collection}.
func (a *API) ListDocuments(w http.ResponseWriter, r *http.Request) {
	collection, _, ok := documentNames(w, r)
	if !ok {
		return
	}
	docs, err := a.repo.List(r.Context(), collection)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListDocumentsResponse{Documents: docs})
}

// GetDocument handles GET /api/admin/documents/{collection}/{slug}.
func (a *API) GetDocument(w http.ResponseWriter, r *http.Request) {
	collection, slug, ok := documentNames(w, r)
	if !ok {
		return
	}
	doc, err := a.repo.Get(r.Context(), collection, slug)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// PutDocument handles PUT /api/admin/documents/{collection}/{slug}.
// Saving a draft needs the shared secret. Any save returns the document to
// draft until it is published again.
func (a *API) PutDocument(w http.ResponseWriter, r *http.Request) {
	if !a.requireLevel(w, r, "save_draft", auth.LevelSecret) {
		return
	}
	collection, slug, ok := documentNames(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[PutDocumentRequest](w, r, maxDocumentBodySize)
	if !ok {
		return
	}
	if len(req.Body) == 0 || bytes.Equal(req.Body, []byte("null")) {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}

	now := a.now().UTC()
	doc, err := a.repo.Update(r.Context(), collection, slug, func(cur *storage.Document) (*storage.Document, error) {
		if cur == nil {
			cur = &storage.Document{}
		}
		cur.Body = req.Body
		cur.Status = storage.StatusDraft
		cur.Revision++
		cur.UpdatedAt = now
		return cur, nil
	})
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.Log(r.Context(), audit.DocumentSaved, docAttrs(collection, slug)...)
	writeJSON(w, http.StatusOK, doc)
}

// PublishDocument handles POST /api/admin/documents/{collection}/{slug}/publish.
func (a *API) PublishDocument(w http.ResponseWriter, r *http.Request) {
	if !a.requireLevel(w, r, "publish", auth.LevelMFA) {
		return
	}
	collection, slug, ok := documentNames(w, r)
	if !ok {
		return
	}

	now := a.now().UTC()
	doc, err := a.repo.Update(r.Context(), collection, slug, func(cur *storage.Document) (*storage.Document, error) {
		if cur == nil {
			return nil, fmt.Errorf("%s/%s: %w", collection, slug, storage.ErrNotFound)
		}
		cur.Status = storage.StatusPublished
		cur.Revision++
		cur.UpdatedAt = now
		cur.PublishedAt = &now
		return cur, nil
	})
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.Log(r.Context(), audit.DocumentPublished, docAttrs(collection, slug)...)
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/admin/documents/{collection}/{slug}.
func (a *API) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if !a.requireLevel(w, r, "delete", auth.LevelMFA) {
		return
	}
	collection, slug, ok := documentNames(w, r)
	if !ok {
		return
	}
	if err := a.repo.Delete(r.Context(), collection, slug); err != nil {
		mapError(w, err)
		return
	}
	a.audit.Log(r.Context(), audit.DocumentDeleted, docAttrs(collection, slug)...)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}
