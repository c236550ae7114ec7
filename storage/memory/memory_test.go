package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gatehouse/storage"
)

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	doc := &storage.Document{
		Collection: "posts",
		Slug:       "hello",
		Body:       json.RawMessage(`{"title":"Hello"}`),
		Status:     storage.StatusDraft,
		Revision:   1,
	}

	t.Run("PutAndGet", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, doc))
		got, err := repo.Get(ctx, "posts", "hello")
		require.NoError(t, err)
		assert.Equal(t, doc, got)

		// Returned documents are copies.
		got.Body[0] = '['
		again, err := repo.Get(ctx, "posts", "hello")
		require.NoError(t, err)
		assert.Equal(t, `{"title":"Hello"}`, string(again.Body))
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ctx, "posts", "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = repo.Get(ctx, "pages", "hello")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListSorted", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, &storage.Document{Collection: "posts", Slug: "abc"}))
		docs, err := repo.List(ctx, "posts")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "abc", docs[0].Slug)
		assert.Equal(t, "hello", docs[1].Slug)

		empty, err := repo.List(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Update", func(t *testing.T) {
		got, err := repo.Update(ctx, "posts", "hello", func(cur *storage.Document) (*storage.Document, error) {
			require.NotNil(t, cur)
			cur.Revision++
			cur.Status = storage.StatusPublished
			return cur, nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Revision)

		created, err := repo.Update(ctx, "posts", "fresh", func(cur *storage.Document) (*storage.Document, error) {
			assert.Nil(t, cur)
			return &storage.Document{Revision: 1}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "posts", created.Collection)
		assert.Equal(t, "fresh", created.Slug)

		boom := errors.New("boom")
		_, err = repo.Update(ctx, "posts", "hello", func(*storage.Document) (*storage.Document, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("InvalidName", func(t *testing.T) {
		assert.ErrorIs(t, repo.Put(ctx, &storage.Document{Collection: "Posts", Slug: "x"}), storage.ErrInvalidName)
		_, err := repo.Update(ctx, "posts", "../x", func(*storage.Document) (*storage.Document, error) {
			return &storage.Document{}, nil
		})
		assert.ErrorIs(t, err, storage.ErrInvalidName)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "posts", "hello"))
		_, err := repo.Get(ctx, "posts", "hello")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, "posts", "hello"), storage.ErrNotFound)
	})
}

func TestMemoryRepository_ConcurrentUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.Update(ctx, "posts", "counter", func(cur *storage.Document) (*storage.Document, error) {
				if cur == nil {
					return &storage.Document{Revision: 1}, nil
				}
				cur.Revision++
				return cur, nil
			})
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, "posts", "counter")
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.Revision)
}
