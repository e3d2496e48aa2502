package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlab2016/space-db-public/embedding"
	"github.com/xlab2016/space-db-public/hybridstore"
	"github.com/xlab2016/space-db-public/internal/apperr"
	"github.com/xlab2016/space-db-public/kvstore"
	"github.com/xlab2016/space-db-public/parser"
	"github.com/xlab2016/space-db-public/parser/jsonparser"
	"github.com/xlab2016/space-db-public/parser/text"
	"github.com/xlab2016/space-db-public/vectorindex"
	"github.com/xlab2016/space-db-public/vectorindex/memvec"
)

// fakeEmbedder returns a deterministic vector derived from text length so
// tests don't need a live embedding endpoint.
type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dims)
	for i := range v {
		v[i] = float32(len(text))
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

// mismatchEmbedder always returns one fewer vector than requested, to
// exercise the EmbeddingMismatch path.
type mismatchEmbedder struct{ fakeEmbedder }

func (m *mismatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, _ := m.fakeEmbedder.EmbedBatch(ctx, texts)
	if len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func newTestPipeline(t *testing.T, embed embedding.Provider, cfg Config) (*Pipeline, *hybridstore.Store) {
	t.Helper()
	ctx := context.Background()
	store, err := hybridstore.New(ctx, kvstore.NewMemStore(), memvec.New(), embed, hybridstore.Config{VectorSize: 4, Distance: vectorindex.Cosine})
	require.NoError(t, err)

	registry := parser.NewRegistry(text.New(), jsonparser.New())
	return New(registry, embed, store, cfg), store
}

func TestIngest_RejectsEmptyPayload(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeEmbedder{dims: 4}, DefaultConfig())
	_, err := p.Ingest(context.Background(), Request{ResourceID: "r1", Payload: nil})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestIngest_RejectsMissingResourceID(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeEmbedder{dims: 4}, DefaultConfig())
	_, err := p.Ingest(context.Background(), Request{Payload: []byte("some text here")})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

// Seed scenario 1: three-paragraph text ingestion end-to-end.
func TestIngest_ThreeParagraphTextScenario(t *testing.T) {
	p, store := newTestPipeline(t, &fakeEmbedder{dims: 4}, DefaultConfig())

	payload := strings.Join([]string{
		strings.Repeat("a", 60),
		strings.Repeat("b", 60),
		strings.Repeat("c", 60),
	}, "\n\n")

	result, err := p.Ingest(context.Background(), Request{
		ResourceID:  "doc-1",
		ContentType: "text",
		Payload:     []byte(payload),
	})
	require.NoError(t, err)

	assert.Greater(t, result.ResourcePointID, int64(0))
	require.Len(t, result.FragmentPointIDs, 3)
	require.Len(t, result.SegmentIDs, 3)
	assert.Equal(t, 3, result.TotalFragments)

	for i := 0; i < len(result.FragmentPointIDs)-1; i++ {
		assert.Less(t, result.FragmentPointIDs[i], result.FragmentPointIDs[i+1])
	}
	for _, segmentID := range result.SegmentIDs {
		assert.Greater(t, segmentID, int64(0))
	}

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PointsByDimension[hybridstore.DimensionResource])
	assert.Equal(t, 3, stats.PointsByDimension[hybridstore.DimensionFragment])
	assert.Equal(t, 3, stats.SegmentCount)
}

// Seed scenario 2: JSON payload with a nested bio fragment.
func TestIngest_NestedJSONScenario(t *testing.T) {
	p, store := newTestPipeline(t, &fakeEmbedder{dims: 4}, DefaultConfig())

	bio := "Software engineer with a real passion for building systems"
	payload := `{"user":{"name":"Alice","bio":"` + bio + `"}}`

	result, err := p.Ingest(context.Background(), Request{
		ResourceID:  "doc-2",
		ContentType: "json",
		Payload:     []byte(payload),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalFragments)
	require.Len(t, result.FragmentPointIDs, 3)
	require.Len(t, result.SegmentIDs, 3)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PointsByDimension[hybridstore.DimensionResource])
	assert.Equal(t, 3, stats.PointsByDimension[hybridstore.DimensionFragment])
}

func TestIngest_WhitespaceOnlyPayloadFailsWithNoResourcePointCreated(t *testing.T) {
	p, store := newTestPipeline(t, &fakeEmbedder{dims: 4}, DefaultConfig())

	_, err := p.Ingest(context.Background(), Request{
		ResourceID:  "doc-3",
		ContentType: "text",
		Payload:     []byte(strings.Repeat(" ", 30) + "\n\n" + strings.Repeat("\t", 30)),
	})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PointCount)
}

func TestIngest_UnknownContentTypeFailsWithNotFound(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeEmbedder{dims: 4}, DefaultConfig())

	_, err := p.Ingest(context.Background(), Request{
		ResourceID:  "doc-4",
		ContentType: "xml-unknown",
		Payload:     []byte("<a/>"),
	})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestIngest_EmbeddingCountMismatchFailsWithEmbeddingMismatch(t *testing.T) {
	p, _ := newTestPipeline(t, &mismatchEmbedder{fakeEmbedder{dims: 4}}, DefaultConfig())

	payload := strings.Join([]string{
		strings.Repeat("a", 60),
		strings.Repeat("b", 60),
	}, "\n\n")

	_, err := p.Ingest(context.Background(), Request{
		ResourceID:  "doc-5",
		ContentType: "text",
		Payload:     []byte(payload),
	})
	assert.True(t, apperr.Is(err, apperr.EmbeddingMismatch))
}

func TestIngest_WithConcurrencyMaterializesEveryFragmentOnce(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeEmbedder{dims: 4}, Config{MaxConcurrency: 4})

	payload := strings.Join([]string{
		strings.Repeat("a", 60),
		strings.Repeat("b", 60),
		strings.Repeat("c", 60),
		strings.Repeat("d", 60),
	}, "\n\n")

	result, err := p.Ingest(context.Background(), Request{
		ResourceID:  "doc-6",
		ContentType: "text",
		Payload:     []byte(payload),
	})
	require.NoError(t, err)
	require.Len(t, result.FragmentPointIDs, 4)
	require.Len(t, result.SegmentIDs, 4)

	// Concurrent allocation means fragment point ids need not be
	// monotonic, but every fragment must still have materialized
	// exactly once, with no duplicate or zero ids.
	seen := make(map[int64]bool, len(result.FragmentPointIDs))
	for _, id := range result.FragmentPointIDs {
		assert.Greater(t, id, int64(0))
		assert.False(t, seen[id], "duplicate fragment point id %d", id)
		seen[id] = true
	}

	seenSegments := make(map[int64]bool, len(result.SegmentIDs))
	for _, id := range result.SegmentIDs {
		assert.Greater(t, id, int64(0))
		assert.False(t, seenSegments[id], "duplicate segment id %d", id)
		seenSegments[id] = true
	}
}
