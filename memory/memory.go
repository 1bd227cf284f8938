// Package memory defines the memory search surface the agent processes use.
// The on-disk vector index is an external collaborator; this package specs
// the operations and provides a store-backed implementation.
package memory

import (
	"context"
	"fmt"
	"strings"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/store/sqlite"
)

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// Search is the operation surface the memory tools and the cortex use.
type Search interface {
	// Save stores a memory and returns its id.
	Save(ctx context.Context, content, category string) (string, error)
	// Recall returns the top-k memories semantically closest to query.
	Recall(ctx context.Context, query string, k int) ([]sqlite.ScoredMemory, error)
	// Delete removes a memory by id.
	Delete(ctx context.Context, id string) error
	// Associate links two memories with a similarity score.
	Associate(ctx context.Context, fromID, toID string, score float32) error
	// Recent returns the newest memories for bulletin assembly.
	Recent(ctx context.Context, limit int) ([]sqlite.Memory, error)
}

// StoreSearch implements Search over the agent's sqlite store plus an
// embedding provider. A nil embedding provider degrades Recall to
// recency order.
type StoreSearch struct {
	store     *sqlite.Store
	embedding EmbeddingProvider
}

// NewStoreSearch builds the store-backed search surface.
func NewStoreSearch(store *sqlite.Store, embedding EmbeddingProvider) *StoreSearch {
	return &StoreSearch{store: store, embedding: embedding}
}

var _ Search = (*StoreSearch)(nil)

// minRecallScore filters weak matches from semantic recall.
const minRecallScore = 0.3

func (s *StoreSearch) Save(ctx context.Context, content, category string) (string, error) {
	m := sqlite.Memory{
		ID:        spacebot.NewID(),
		Content:   content,
		Category:  category,
		CreatedAt: spacebot.NowUnix(),
	}
	if s.embedding != nil {
		embs, err := s.embedding.Embed(ctx, []string{content})
		if err != nil {
			return "", fmt.Errorf("memory: embed: %w", err)
		}
		if len(embs) > 0 {
			m.Embedding = embs[0]
		}
	}
	if err := s.store.InsertMemory(ctx, m); err != nil {
		return "", err
	}
	return m.ID, nil
}

func (s *StoreSearch) Recall(ctx context.Context, query string, k int) ([]sqlite.ScoredMemory, error) {
	if k <= 0 {
		k = 5
	}
	if s.embedding == nil {
		recent, err := s.store.RecentMemories(ctx, k)
		if err != nil {
			return nil, err
		}
		out := make([]sqlite.ScoredMemory, len(recent))
		for i, m := range recent {
			out[i] = sqlite.ScoredMemory{Memory: m}
		}
		return out, nil
	}
	embs, err := s.embedding.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	if len(embs) == 0 {
		return nil, nil
	}
	return s.store.SearchMemories(ctx, embs[0], k, minRecallScore)
}

func (s *StoreSearch) Delete(ctx context.Context, id string) error {
	return s.store.DeleteMemory(ctx, id)
}

func (s *StoreSearch) Associate(ctx context.Context, fromID, toID string, score float32) error {
	return s.store.AssociateMemories(ctx, fromID, toID, score)
}

func (s *StoreSearch) Recent(ctx context.Context, limit int) ([]sqlite.Memory, error) {
	return s.store.RecentMemories(ctx, limit)
}

// FormatRecall renders recalled memories for a tool result.
func FormatRecall(memories []sqlite.ScoredMemory) string {
	if len(memories) == 0 {
		return "no matching memories"
	}
	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "- [%s] %s\n", m.ID, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
