package sqlite

import (
	"context"
	"encoding/json"
	"math"
	"sort"

	spacebot "github.com/nevindra/spacebot"
)

// Memory is one long-term memory record. The vector index proper is
// external; embeddings stored here serve the brute-force search surface.
type Memory struct {
	ID        string
	Content   string
	Category  string
	Embedding []float32
	CreatedAt int64
}

// ScoredMemory pairs a memory with its cosine similarity to a query.
type ScoredMemory struct {
	Memory
	Score float32
}

// InsertMemory stores a memory record.
func (s *Store) InsertMemory(ctx context.Context, m Memory) error {
	emb, _ := json.Marshal(m.Embedding)
	_, err := s.exec(ctx, `
		INSERT INTO memories (id, content, category, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Content, m.Category, string(emb), m.CreatedAt)
	return err
}

// DeleteMemory removes a memory and its associations.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if _, err := s.exec(ctx,
		`DELETE FROM memory_associations WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return err
	}
	_, err := s.exec(ctx, `DELETE FROM memories WHERE id = ?`, id)
	return err
}

// RecentMemories returns the newest memories, newest first.
func (s *Store) RecentMemories(ctx context.Context, limit int) ([]Memory, error) {
	rows, err := s.query(ctx, `
		SELECT id, content, COALESCE(category, ''), COALESCE(embedding, ''), created_at
		FROM memories ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

// SearchMemories runs brute-force cosine similarity over stored embeddings
// and returns the top-k matches with score ≥ minScore.
func (s *Store) SearchMemories(ctx context.Context, query []float32, k int, minScore float32) ([]ScoredMemory, error) {
	rows, err := s.query(ctx, `
		SELECT id, content, COALESCE(category, ''), COALESCE(embedding, ''), created_at
		FROM memories WHERE embedding != ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	memories, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	var scored []ScoredMemory
	for _, m := range memories {
		score := cosine(query, m.Embedding)
		if score >= minScore {
			scored = append(scored, ScoredMemory{Memory: m, Score: score})
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// AssociateMemories records a similarity link between two memories.
func (s *Store) AssociateMemories(ctx context.Context, fromID, toID string, score float32) error {
	_, err := s.exec(ctx, `
		INSERT OR REPLACE INTO memory_associations (from_id, to_id, score)
		VALUES (?, ?, ?)`, fromID, toID, score)
	return err
}

// --- conversation archives ---

// InsertArchive stores a compacted-away conversation transcript.
func (s *Store) InsertArchive(ctx context.Context, channelID, content string) error {
	_, err := s.exec(ctx, `
		INSERT INTO conversation_archives (id, channel_id, content, archived_at)
		VALUES (?, ?, ?, ?)`,
		spacebot.NewID(), channelID, content, spacebot.NowUnix())
	return err
}

// SearchArchives returns archived transcript fragments for a channel
// containing the query substring, newest first.
func (s *Store) SearchArchives(ctx context.Context, channelID, query string, limit int) ([]string, error) {
	rows, err := s.query(ctx, `
		SELECT content FROM conversation_archives
		WHERE channel_id = ? AND content LIKE '%' || ? || '%'
		ORDER BY archived_at DESC LIMIT ?`,
		channelID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- helpers ---

type memoryRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMemories(rows memoryRows) ([]Memory, error) {
	var out []Memory
	for rows.Next() {
		var m Memory
		var emb string
		if err := rows.Scan(&m.ID, &m.Content, &m.Category, &emb, &m.CreatedAt); err != nil {
			return nil, err
		}
		if emb != "" {
			_ = json.Unmarshal([]byte(emb), &m.Embedding)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
