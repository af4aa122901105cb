// Package storetest holds the behaviour every store.Backend must satisfy. Each
// backend package runs Run against a real instance in its own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/oneshot/internal/domain"
	"github.com/haukened/oneshot/internal/store"
)

// Factory returns a fresh, empty backend. Cleanup is registered on t.
type Factory func(t *testing.T) store.Backend

func newID(t *testing.T) string {
	t.Helper()
	id, err := domain.NewID()
	require.NoError(t, err)
	return id.String()
}

// Run exercises the store.Backend contract.
func Run(t *testing.T, factory Factory) {
	t.Run("InsertGetDelete", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		id := newID(t)
		blob := []byte("nonce-nonce-nonctag-tag-tag-tagciphertext")

		require.NoError(t, b.Insert(ctx, id, blob))
		got, err := b.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, blob, got)

		require.NoError(t, b.Delete(ctx, id))
		_, err = b.Get(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, b.Delete(ctx, id), domain.ErrNotFound)
	})

	t.Run("EmptyBlob", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		id := newID(t)
		require.NoError(t, b.Insert(ctx, id, []byte{}))
		got, err := b.Get(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		b := factory(t)
		_, err := b.Get(context.Background(), newID(t))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("CollisionDoesNotOverwrite", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		id := newID(t)
		require.NoError(t, b.Insert(ctx, id, []byte("first")))
		err := b.Insert(ctx, id, []byte("second"))
		assert.ErrorIs(t, err, domain.ErrCollision)
		got, err := b.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), got)
	})

	t.Run("ConcurrentInsertSameID", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		id := newID(t)
		const n = 8
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = b.Insert(ctx, id, []byte(fmt.Sprintf("writer-%d", i)))
			}(i)
		}
		wg.Wait()
		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrCollision)
		}
		assert.Equal(t, 1, wins, "exactly one insert must win")
	})

	t.Run("Ping", func(t *testing.T) {
		b := factory(t)
		assert.NoError(t, b.Ping(context.Background()))
	})
}
