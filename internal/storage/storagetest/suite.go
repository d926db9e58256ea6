// Package storagetest holds behaviour tests shared by storage backends.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-dfe/internal/storage"
	"github.com/sirosfoundation/go-dfe/pkg/distribution"
)

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("CursorMissing", func(t *testing.T) {
		s := newStore(t)
		c, err := s.GetCursor(context.Background(), "12345678000199")
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("CursorSaveAndReplace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		require.NoError(t, s.SaveCursor(ctx, &storage.Cursor{TaxID: "12345678000199", LastNSU: 10, MaxNSU: 20, UpdatedAt: now, LastStatus: "138"}))
		require.NoError(t, s.SaveCursor(ctx, &storage.Cursor{TaxID: "12345678000199", LastNSU: 20, MaxNSU: 20, UpdatedAt: now, LastStatus: "137", LastReason: "Nenhum documento localizado"}))
		require.NoError(t, s.SaveCursor(ctx, &storage.Cursor{TaxID: "00000000000191", LastNSU: 5, UpdatedAt: now}))

		c, err := s.GetCursor(ctx, "12345678000199")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, uint64(20), c.LastNSU)
		assert.Equal(t, "137", c.LastStatus)
		assert.Equal(t, "Nenhum documento localizado", c.LastReason)
		assert.True(t, now.Equal(c.UpdatedAt))

		all, err := s.ListCursors(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "00000000000191", all[0].TaxID)
		assert.Equal(t, "12345678000199", all[1].TaxID)
	})

	t.Run("CursorNeverMovesBackwards", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		require.NoError(t, s.SaveCursor(ctx, &storage.Cursor{TaxID: "12345678000199", LastNSU: 40, MaxNSU: 50, UpdatedAt: now, LastStatus: "138"}))
		require.NoError(t, s.SaveCursor(ctx, &storage.Cursor{TaxID: "12345678000199", LastNSU: 3, MaxNSU: 60, UpdatedAt: now, LastStatus: "656", LastReason: "Rejeicao: Consumo Indevido"}))

		c, err := s.GetCursor(ctx, "12345678000199")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, uint64(40), c.LastNSU)
		assert.Equal(t, uint64(60), c.MaxNSU)
		assert.Equal(t, "656", c.LastStatus)
		assert.Equal(t, "Rejeicao: Consumo Indevido", c.LastReason)
	})

	t.Run("DocumentsUpsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.SaveDocuments(ctx, []*storage.Document{
			doc("12345678000199", 1, distribution.KindSummary),
			doc("12345678000199", 2, distribution.KindEvent),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, created)

		again := doc("12345678000199", 2, distribution.KindEvent)
		again.Description = "updated"
		created, err = s.SaveDocuments(ctx, []*storage.Document{again, doc("12345678000199", 3, distribution.KindFullDocument)})
		require.NoError(t, err)
		assert.Equal(t, 1, created)

		got, err := s.GetDocument(ctx, "12345678000199", 2)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "updated", got.Description)

		missing, err := s.GetDocument(ctx, "12345678000199", 99)
		require.NoError(t, err)
		assert.Nil(t, missing)

		created, err = s.SaveDocuments(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, created)
	})

	t.Run("DocumentsListAndFilter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.SaveDocuments(ctx, []*storage.Document{
			doc("12345678000199", 30, distribution.KindSummary),
			doc("12345678000199", 10, distribution.KindSummary),
			doc("12345678000199", 20, distribution.KindEvent),
			doc("98765432000110", 15, distribution.KindSummary),
		})
		require.NoError(t, err)

		all, err := s.ListDocuments(ctx, "12345678000199", nil)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []uint64{10, 20, 30}, nsus(all))

		summaries, err := s.ListDocuments(ctx, "12345678000199", &storage.DocumentFilter{Kind: distribution.KindSummary})
		require.NoError(t, err)
		assert.Equal(t, []uint64{10, 30}, nsus(summaries))

		after, err := s.ListDocuments(ctx, "12345678000199", &storage.DocumentFilter{AfterNSU: 10})
		require.NoError(t, err)
		assert.Equal(t, []uint64{20, 30}, nsus(after))

		page, err := s.ListDocuments(ctx, "12345678000199", &storage.DocumentFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []uint64{20}, nsus(page))

		beyond, err := s.ListDocuments(ctx, "12345678000199", &storage.DocumentFilter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, beyond)

		count, err := s.CountDocuments(ctx, "12345678000199", &storage.DocumentFilter{Kind: distribution.KindSummary})
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		none, err := s.ListDocuments(ctx, "00000000000000", nil)
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})

	t.Run("ConcurrentWrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 1; i <= 10; i++ {
			wg.Add(1)
			go func(nsu uint64) {
				defer wg.Done()
				_, err := s.SaveDocuments(ctx, []*storage.Document{doc("12345678000199", nsu, distribution.KindSummary)})
				assert.NoError(t, err)
				assert.NoError(t, s.SaveCursor(ctx, &storage.Cursor{TaxID: "12345678000199", LastNSU: nsu}))
			}(uint64(i))
		}
		wg.Wait()

		count, err := s.CountDocuments(ctx, "12345678000199", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(10), count)
	})
}

func doc(taxID string, nsu uint64, kind distribution.Kind) *storage.Document {
	return &storage.Document{
		ID:        storage.DocumentID(taxID, nsu),
		TaxID:     taxID,
		NSU:       nsu,
		Kind:      kind,
		Schema:    "resNFe_v1.01.xsd",
		AccessKey: "35240112345678000199550010000000011000000010",
		XML:       "<resNFe/>",
		StoredAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
}

func nsus(docs []*storage.Document) []uint64 {
	out := make([]uint64, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.NSU)
	}
	return out
}
