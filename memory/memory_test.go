package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nevindra/spacebot/store/sqlite"
)

// fixedEmbedding returns a fixed vector per input text ({0,0,1} for texts
// not in the map), letting tests control similarity.
type fixedEmbedding struct {
	vectors map[string][]float32
}

func (f *fixedEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (f *fixedEmbedding) Dimensions() int { return 3 }
func (f *fixedEmbedding) Name() string    { return "fixed" }

func testSearch(t *testing.T, emb EmbeddingProvider) *StoreSearch {
	t.Helper()
	store := sqlite.New(filepath.Join(t.TempDir(), "mem.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewStoreSearch(store, emb)
}

func TestSaveAndRecallSemantic(t *testing.T) {
	emb := &fixedEmbedding{vectors: map[string][]float32{
		"likes coffee":      {1, 0, 0},
		"prefers tea":       {0, 1, 0},
		"what drink again?": {0.95, 0.05, 0},
	}}
	s := testSearch(t, emb)
	ctx := context.Background()

	if _, err := s.Save(ctx, "likes coffee", "preference"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Save(ctx, "prefers tea", "preference"); err != nil {
		t.Fatalf("save: %v", err)
	}

	results, err := s.Recall(ctx, "what drink again?", 1)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 1 || results[0].Content != "likes coffee" {
		t.Errorf("expected coffee memory, got %+v", results)
	}
}

func TestRecallWithoutEmbeddingFallsBackToRecency(t *testing.T) {
	s := testSearch(t, nil)
	ctx := context.Background()

	s.Save(ctx, "older fact", "")
	s.Save(ctx, "newer fact", "")

	results, err := s.Recall(ctx, "anything", 1)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 1 || results[0].Content != "newer fact" {
		t.Errorf("expected newest memory, got %+v", results)
	}
}

func TestDeleteRemovesMemory(t *testing.T) {
	s := testSearch(t, nil)
	ctx := context.Background()

	id, _ := s.Save(ctx, "temporary", "")
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recent, _ := s.Recent(ctx, 10)
	if len(recent) != 0 {
		t.Errorf("expected no memories, got %d", len(recent))
	}
}

func TestFormatRecall(t *testing.T) {
	if got := FormatRecall(nil); got != "no matching memories" {
		t.Errorf("empty recall: %q", got)
	}
	out := FormatRecall([]sqlite.ScoredMemory{
		{Memory: sqlite.Memory{ID: "m1", Content: "fact one"}},
		{Memory: sqlite.Memory{ID: "m2", Content: "fact two"}},
	})
	if !strings.Contains(out, "m1") || !strings.Contains(out, "fact two") {
		t.Errorf("format lost content: %q", out)
	}
}
