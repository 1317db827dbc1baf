package schema

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfunnel/maestro/pkg/database"
)

// mapEmbedder returns a canned vector per exact text and counts batches.
type mapEmbedder struct {
	byText  map[string][]float32
	batches int
}

func (e *mapEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.batches++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := e.byText[text]; ok {
			out[i] = v
		} else {
			out[i] = []float32{9, 9}
		}
	}
	return out, nil
}

func (e *mapEmbedder) Dimension() int { return 2 }

func schemaDB(t *testing.T) *database.Client {
	t.Helper()
	db, err := database.NewClient(context.Background(), database.Config{
		Path: filepath.Join(t.TempDir(), "schema-index.db"),
	}, database.SchemaIndexMigrations)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func indexEmbedder() *mapEmbedder {
	return &mapEmbedder{byText: map[string][]float32{
		"Campaign: A marketing campaign":                 {1, 0},
		"Contact: A person":                              {2, 0},
		"CampaignMember: Links a contact to a campaign":  {3, 0},
		"Contact.Email (email): Primary email address":   {1, 1},
		"Contact.Phone (phone): ":                        {5, 5},
	}}
}

func TestIndexLoadAndSearch(t *testing.T) {
	ctx := context.Background()
	db := schemaDB(t)
	catalog := NewCatalog(testObjects())
	embedder := indexEmbedder()

	idx := NewIndex(db, nil)
	require.NoError(t, idx.Load(ctx, catalog, embedder))

	t.Run("objects ranked by distance", func(t *testing.T) {
		matches := idx.SearchObjects([]float32{1, 0}, 2)
		require.Len(t, matches, 2)
		assert.Equal(t, "Campaign", matches[0].Name)
		assert.Zero(t, matches[0].Distance)
		assert.Equal(t, "Contact", matches[1].Name)
		assert.EqualValues(t, 1, matches[1].Distance)
	})

	t.Run("fields scoped per object", func(t *testing.T) {
		matches := idx.SearchFields("Contact", []float32{1, 1}, 1)
		require.Len(t, matches, 1)
		assert.Equal(t, "Email", matches[0].Name)

		assert.Empty(t, idx.SearchFields("Invoice", []float32{1, 1}, 5))
	})
}

func TestIndexFingerprintSkipsReembedding(t *testing.T) {
	ctx := context.Background()
	db := schemaDB(t)
	catalog := NewCatalog(testObjects())
	embedder := indexEmbedder()

	idx := NewIndex(db, nil)
	require.NoError(t, idx.Load(ctx, catalog, embedder))
	batchesAfterBuild := embedder.batches
	require.Positive(t, batchesAfterBuild)

	// Same catalog: vectors are read back without embedding anything.
	idx2 := NewIndex(db, nil)
	require.NoError(t, idx2.Load(ctx, catalog, embedder))
	assert.Equal(t, batchesAfterBuild, embedder.batches)
	assert.Len(t, idx2.SearchObjects([]float32{1, 0}, 10), 3)

	// A changed catalog invalidates the fingerprint and rebuilds.
	objects := testObjects()
	objects[0].Description = "A marketing campaign, revised"
	idx3 := NewIndex(db, nil)
	require.NoError(t, idx3.Load(ctx, NewCatalog(objects), embedder))
	assert.Greater(t, embedder.batches, batchesAfterBuild)
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3.75}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Empty(t, decodeVector(nil))
}

func TestL2Squared(t *testing.T) {
	assert.Zero(t, l2Squared([]float32{1, 2}, []float32{1, 2}))
	assert.EqualValues(t, 8, l2Squared([]float32{0, 0}, []float32{2, 2}))
	// Length mismatch adds a penalty so truncated vectors never look close.
	assert.EqualValues(t, 1, l2Squared([]float32{1}, []float32{1, 5}))
}
